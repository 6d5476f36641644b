package servers

import (
	"net/http"

	"github.com/qmdx00/lifecycle"

	"agent-calendar/pkg/messaging"
)

var (
	_ Server = (*httpServer)(nil)
	_ Server = (*baseServer)(nil)
	_ Server = (*natsServer)(nil)
)

type Server interface {
	lifecycle.Server
}

//

var (
	_ Application = (*lifecycle.App)(nil)
)

type Application interface {
	ID() string
	Name() string
	Version() string
	Metadata() map[string]string
	Attach(name string, server lifecycle.Server)
	Run() error
}

//

var (
	_ BuildHttpServerFn = BuildHttpServer
	_ BuildNatsServerFn = BuildNatsServer
)

type BuildHttpServerFn func(role string, server *http.Server) (string, Server)

type BuildNatsServerFn func(subscriber Subscriber, subject string, queue string, handler messaging.Handler) (string, Server)
