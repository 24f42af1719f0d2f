package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/vita3k/v3kn/api/config"
	"github.com/vita3k/v3kn/api/server/handlers"
	"github.com/vita3k/v3kn/api/services"
	"github.com/vita3k/v3kn/pkg/otel"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server

	// baseCtx is the parent of every request context. Stop cancels it
	// so parked long polls return before Shutdown starts counting.
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewServer(
	cfg *config.Config,
	gate *RequestGate,
	accounts *services.AccountService,
	friends *services.FriendService,
	messages *services.MessageService,
	storage *services.StorageService,
) *Server {
	router := chi.NewRouter()

	router.Use(otel.Middleware("v3kn"))
	router.Use(RequestID)
	router.Use(Recovery)
	router.Use(AccessLog)
	router.Use(Metrics)

	siteH := handlers.NewSiteHandler()
	router.Get("/", siteH.Root)
	router.Get("/favicon.ico", siteH.Favicon)
	router.Get("/health", siteH.Health)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	accountH := handlers.NewAccountHandler(accounts)
	friendH := handlers.NewFriendHandler(friends)
	messageH := handlers.NewMessageHandler(messages)
	storageH := handlers.NewStorageHandler(storage, accounts)

	router.Route("/v3kn", func(r chi.Router) {
		// No token yet on these two.
		r.Group(func(r chi.Router) {
			r.Use(Gate(gate))
			r.Post("/create", accountH.Create)
			r.Post("/login", accountH.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(Auth(accounts))

			r.Group(func(r chi.Router) {
				r.Use(Gate(gate))

				r.Get("/check", accountH.Check)
				r.Get("/quota", accountH.Quota)
				r.Post("/delete", accountH.Delete)
				r.Post("/change_npid", accountH.ChangeNPID)
				r.Post("/change_password", accountH.ChangePassword)
				r.Get("/avatar", accountH.GetAvatar)
				r.Post("/avatar", accountH.UploadAvatar)

				r.Get("/save_info", storageH.SaveInfo)
				r.Get("/trophies_info", storageH.TrophiesInfo)
				r.Get("/download_file", storageH.Download)
				r.Post("/upload_file", storageH.Upload)
				r.Get("/check_trophy_conf_data", storageH.CheckTrophyConf)
				r.Post("/upload_trophy_conf_data", storageH.UploadTrophyConf)

				r.Route("/friends", func(r chi.Router) {
					r.Post("/add", friendH.Add)
					r.Post("/accept", friendH.Accept)
					r.Post("/reject", friendH.Reject)
					r.Post("/remove", friendH.Remove)
					r.Post("/cancel", friendH.Cancel)
					r.Post("/block", friendH.Block)
					r.Post("/unblock", friendH.Unblock)
					r.Post("/presence", friendH.Presence)
					r.Get("/list", friendH.List)
					r.Get("/profile", friendH.Profile)
					r.Get("/search", friendH.Search)
				})

				r.Route("/messages", func(r chi.Router) {
					r.Post("/create", messageH.Create)
					r.Post("/send", messageH.Send)
					r.Post("/delete", messageH.Delete)
					r.Post("/add_participant", messageH.AddParticipant)
					r.Post("/leave", messageH.Leave)
					r.Post("/delete_conversation", messageH.DeleteConversation)
					r.Get("/conversations", messageH.Conversations)
					r.Get("/read", messageH.Read)
				})
			})

			// Long polls park up to the poll budget; they run outside
			// the gate so the updater can quiesce without waiting them
			// out.
			r.Get("/friends/poll", friendH.Poll)
			r.Get("/messages/poll", messageH.Poll)
		})
	})

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		router:  router,
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// Start blocks serving HTTP until Stop or a listener error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, s.cfg.Server.MaxConns)

	s.server = &http.Server{
		Handler:      http.MaxBytesHandler(s.router, s.cfg.Server.MaxBody),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}

	slog.Info("server listening", "addr", s.cfg.Server.Addr())
	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop cancels parked polls and shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.cancel()
	return s.server.Shutdown(ctx)
}

// Router is exposed for handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}
