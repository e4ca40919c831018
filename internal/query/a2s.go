package query

import (
	"context"
	"time"

	"github.com/rumblefrog/go-a2s"
)

// fallbackTimeout bounds the socket when the caller's ctx carries no deadline.
const fallbackTimeout = 5 * time.Second

// Info is the subset of an A2S_INFO reply the bot uses. Values are untrusted.
type Info struct {
	Name       string `json:"name"`
	Map        string `json:"map"`
	Folder     string `json:"folder,omitempty"`
	Game       string `json:"game,omitempty"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Bots       int    `json:"bots"`
}

// A2S speaks the Source engine server query protocol over UDP. go-a2s
// answers challenges and reassembles split replies; the socket deadline
// follows ctx.
type A2S struct{}

func (q *A2S) Info(ctx context.Context, hostport string) (Info, error) {
	timeout := fallbackTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if timeout <= 0 {
		return Info{}, context.DeadlineExceeded
	}

	c, err := a2s.NewClient(hostport, a2s.TimeoutOption(timeout))
	if err != nil {
		return Info{}, err
	}
	defer c.Close()

	si, err := c.QueryInfo()
	if err != nil {
		if ctx.Err() != nil {
			return Info{}, ctx.Err()
		}
		return Info{}, err
	}
	return fromServerInfo(si), nil
}

func fromServerInfo(si *a2s.ServerInfo) Info {
	if si == nil {
		return Info{}
	}
	return Info{
		Name:       si.Name,
		Map:        si.Map,
		Folder:     si.Folder,
		Game:       si.Game,
		Players:    int(si.Players),
		MaxPlayers: int(si.MaxPlayers),
		Bots:       int(si.Bots),
	}
}
