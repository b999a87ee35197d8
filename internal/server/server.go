package server

import (
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"drawboard-backend/internal/config"
	"drawboard-backend/internal/dispatch"
	"drawboard-backend/internal/handler"
	"drawboard-backend/internal/room"
)

// Server wraps the Fiber app.
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	hub        *room.Hub
	dispatcher *dispatch.Dispatcher
	drawWS     *handler.DrawWSHandler
}

// New creates the server and its handlers.
func New(cfg *config.Config, dispatcher *dispatch.Dispatcher) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Drawboard Session Gateway",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
	})

	return &Server{
		app:        app,
		cfg:        cfg,
		hub:        dispatcher.Hub(),
		dispatcher: dispatcher,
		drawWS:     handler.NewDrawWSHandler(dispatcher, &cfg.WebSocket),
	}
}

// SetupMiddleware installs panic recovery, access logging and CORS.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, POST, OPTIONS",
	}))
}

// SetupRoutes installs the REST surface and the websocket endpoint.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	apiLimiter := limiter.New(limiter.Config{
		Max:        60,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// read-only observability surface over live rooms
	api := s.app.Group("/api", apiLimiter)
	api.Get("/rooms", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"rooms": s.hub.List()})
	})
	api.Get("/rooms/:roomId", func(c *fiber.Ctx) error {
		rm, ok := s.hub.Get(c.Params("roomId"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "room not found"})
		}
		return c.JSON(rm.State())
	})

	// the client entry point is a room slug; bare / picks a random room
	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/" + strconv.Itoa(rand.Intn(1000000)))
	})

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/draw", websocket.New(s.drawWS.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))

	// room links resolve here; the drawing client connects back over /ws/draw
	s.app.Get("/:roomId", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"room":      c.Params("roomId"),
			"websocket": "/ws/draw",
		})
	})
}

// Start runs the server with graceful shutdown on SIGINT/SIGTERM.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("server shutdown error: %v", err)
		}
	}()

	log.Printf("drawboard session gateway starting on %s", s.cfg.Server.Port)
	log.Printf("websocket endpoint: ws://localhost%s/ws/draw", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
