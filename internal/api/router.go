package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"virtgate/internal/auth"
	apperrors "virtgate/internal/errors"
	customMiddleware "virtgate/internal/middleware"
	"virtgate/internal/model"
	"virtgate/internal/rest"
	handlers "virtgate/internal/transport/http"
	ws "virtgate/internal/websocket"
)

// Deps holds everything the route table mounts. Auth, Hub, Health and
// Metrics are optional.
type Deps struct {
	Dispatcher     *rest.Dispatcher
	Errors         *apperrors.ErrorHandler
	Auth           *auth.Authenticator
	Hub            *ws.Hub
	Health         *handlers.HealthHandler
	Metrics        http.Handler
	AllowedOrigins []string
	// RequestTimeout bounds resource requests; zero disables it
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Routes mounts the API on r
func Routes(r chi.Router, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r.NotFound(deps.Errors.NotFound)
	r.MethodNotAllowed(deps.Errors.MethodNotAllowed)

	if deps.Health != nil {
		deps.Health.Routes(r)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.Auth != nil {
		r.Post("/login", deps.Auth.Login)
		r.Post("/logout", deps.Auth.Logout)
	}

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.RequireSession, logSessionUser)
		}

		if deps.Hub != nil {
			r.Get("/ws/tasks", ws.Handler(deps.Hub, deps.AllowedOrigins, deps.Logger))
		}

		r.Group(func(r chi.Router) {
			if deps.RequestTimeout > 0 {
				r.Use(customMiddleware.Timeout(deps.RequestTimeout))
			}
			mountResources(r, deps.Dispatcher)
		})
	})
}

// logSessionUser adds the logged in user to the access log record
func logSessionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := auth.SessionFromContext(r.Context()); ok {
			apperrors.AnnotateRequest(r.Context(), slog.String("user", sess.UserID))
		}
		next.ServeHTTP(w, r)
	})
}

// mountResources registers every collection and resource of the model. All
// methods reach the dispatcher, which answers 405 itself.
func mountResources(r chi.Router, d *rest.Dispatcher) {
	collection := func(path string, ct *rest.CollectionType, args rest.ArgsFunc) {
		r.Handle(path, d.CollectionHandler(ct, args))
	}
	resource := func(path string, rt *rest.ResourceType, args rest.ArgsFunc) {
		r.Handle(path, d.ResourceHandler(rt, args))
		for _, a := range rt.Actions {
			r.Handle(path+"/"+a.Name, d.ActionHandler(rt, a, args))
		}
	}
	file := func(path string, rt *rest.ResourceType, args rest.ArgsFunc) {
		r.Handle(path, d.FileHandler(rt, args))
	}

	collection("/vms", VMs, rest.Static())
	resource("/vms/{name}", VM, rest.Params("name"))
	file("/vms/{name}/screenshot", VMScreenshot, rest.Params("name"))

	collection("/templates", Templates, rest.Static())
	resource("/templates/{name}", Template, rest.Params("name"))

	collection("/storagepools", StoragePools, rest.Static())
	resource("/storagepools/"+model.IsoPoolName, IsoPool, rest.Static(model.IsoPoolName))
	collection("/storagepools/"+model.IsoPoolName+"/storagevolumes", IsoVolumes, rest.Static(model.IsoPoolName))
	resource("/storagepools/{pool}", StoragePool, rest.Params("pool"))
	collection("/storagepools/{pool}/storagevolumes", StorageVolumes, rest.Params("pool"))
	resource("/storagepools/{pool}/storagevolumes/{vol}", StorageVolume, rest.Params("pool", "vol"))

	collection("/networks", Networks, rest.Static())
	resource("/networks/{name}", Network, rest.Params("name"))

	collection("/interfaces", Interfaces, rest.Static())
	resource("/interfaces/{name}", Interface, rest.Params("name"))

	collection("/tasks", Tasks, rest.Static())
	resource("/tasks/{id}", Task, rest.Params("id"))

	collection("/debugreports", DebugReports, rest.Static())
	resource("/debugreports/{name}", DebugReport, rest.Params("name"))
	file("/debugreports/{name}/content", DebugReportContent, rest.Params("name"))

	resource("/config", Config, rest.Static())
	resource("/config/capabilities", Capabilities, rest.Static())
	collection("/config/distros", Distros, rest.Static())
	resource("/config/distros/{name}", Distro, rest.Params("name"))

	resource("/host", Host, rest.Static())
	resource("/host/stats", HostStats, rest.Static())
	collection("/host/partitions", Partitions, rest.Static())
	resource("/host/partitions/{name}", Partition, rest.Params("name"))

	collection("/plugins", Plugins, rest.Static())
}
