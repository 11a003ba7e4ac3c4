// Package logging builds the zap loggers for axiomd and the axiom CLI.
//
// The server logs JSON entries stamped with a service field; the CLI logs
// console lines at warn level, or debug with -v. Components receive a named
// child logger:
//
//	logger, err := logging.New(logging.ServerConfig())
//	skeletonLog := logger.Component("skeleton")
//	skeletonLog.Debug("Request failed", zap.String("cmd", cmd), zap.Error(err))
package logging
