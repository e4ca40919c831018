package discovery

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"serverwatch/internal/eventbus"
	"serverwatch/internal/registry"
	logx "serverwatch/pkg/logx"
)

// Lister fetches the raw server list.
type Lister interface {
	List(ctx context.Context) ([]SteamServer, error)
}

// Result summarizes one discovery run.
type Result struct {
	Fetched int `json:"fetched"`
	Kept    int `json:"kept"`
	Added   int `json:"added"`
	Total   int `json:"total"`
}

// Job merges newly discovered servers into the registry file.
type Job struct {
	Lister       Lister
	Deny         []string
	RegistryPath string
	DryRun       bool
	Log          logx.Logger
	Bus          eventbus.Bus
}

// Run fetches, filters and merges. The registry is rewritten only when new
// servers were found. An unreadable existing registry is treated as empty
// unless it exists and fails to parse, in which case Run refuses to overwrite it.
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	listed, err := j.Lister.List(ctx)
	if err != nil {
		return Result{}, err
	}
	deny := j.Deny
	if deny == nil {
		deny = DefaultDeny
	}
	found := Filter(listed, deny)

	existing, err := registry.ReadFile(j.RegistryPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Result{}, err
		}
		existing = nil
	}

	merged, added := registry.Merge(existing, found)
	res := Result{Fetched: len(listed), Kept: len(found), Added: added, Total: len(merged)}

	if added > 0 && !j.DryRun {
		if err := registry.Save(j.RegistryPath, merged); err != nil {
			return res, err
		}
		if j.Bus != nil {
			j.Bus.Publish(eventbus.Event{Type: eventbus.RegistryUpdated, Data: res})
		}
	}
	j.Log.Info("discovery finished",
		logx.Int("fetched", res.Fetched),
		logx.Int("kept", res.Kept),
		logx.Int("added", res.Added),
		logx.Int("total", res.Total),
		logx.Bool("dry_run", j.DryRun),
		logx.Duration("took", time.Since(start)),
	)
	return res, nil
}
