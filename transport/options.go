package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luma/conduit/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free one. See TCP.Addr.
	Port int

	// Reuseport controls setting SO_REUSEPORT, it is required for more than
	// one listener.
	Reuseport bool

	NumListeners int

	// Password, when set, has to be sent with AUTH or HELLO before any
	// other command.
	Password string

	// Trace logs every command received. This is only useful in local debugging
	Trace bool

	Store storage.Store

	// Registerer receives the server collectors, nil disables them.
	Registerer prometheus.Registerer

	Log *zap.Logger
}
