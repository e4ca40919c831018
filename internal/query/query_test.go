package query

import logx "serverwatch/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }
