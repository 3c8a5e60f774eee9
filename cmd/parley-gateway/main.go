package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"uk.co.dudmesh.parley/internal/apiclient"
	"uk.co.dudmesh.parley/internal/boot"
	"uk.co.dudmesh.parley/internal/engine"
	"uk.co.dudmesh.parley/internal/model"
	"uk.co.dudmesh.parley/internal/snapshot"
	"uk.co.dudmesh.parley/internal/transport"
)

type gateway struct {
	engine *engine.Engine
}

type sendParams struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
}

type retryParams struct {
	ConversationID string `json:"conversationId"`
	LocalKey       string `json:"localKey"`
}

type readParams struct {
	MessageID string `json:"messageId"`
}

type editParams struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type recallParams struct {
	ConversationID string `json:"conversationId"`
}

type flagParams struct {
	Pinned   *bool `json:"pinned"`
	Muted    *bool `json:"muted"`
	Archived *bool `json:"archived"`
}

func (g *gateway) listConversations(c echo.Context) error {
	return c.JSON(http.StatusOK, g.engine.Conversations())
}

func (g *gateway) listMessages(c echo.Context) error {
	id := model.ConversationID(c.Param("id"))
	return c.JSON(http.StatusOK, g.engine.Messages(id))
}

func (g *gateway) openConversation(c echo.Context) error {
	id := model.ConversationID(c.Param("id"))
	if err := g.engine.OpenConversation(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, g.engine.Messages(id))
}

func (g *gateway) closeConversation(c echo.Context) error {
	g.engine.CloseConversation()
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) loadOlder(c echo.Context) error {
	id := model.ConversationID(c.Param("id"))
	timeline, err := g.engine.LoadOlder(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, timeline)
}

func (g *gateway) sendMessage(c echo.Context) error {
	params := sendParams{}
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	kind := model.MessageKindText
	if params.Kind != "" {
		parsed, ok := model.ParseMessageKind(params.Kind)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown message kind")
		}
		kind = parsed
	}

	m, err := g.engine.SendMessage(params.Content, kind, engine.SendTarget{
		ConversationID: model.ConversationID(params.ConversationID),
		RecipientID:    model.UserID(params.RecipientID),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, m)
}

func (g *gateway) retryMessage(c echo.Context) error {
	params := retryParams{}
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := g.engine.RetryMessage(model.ConversationID(params.ConversationID), model.LocalKey(params.LocalKey)); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (g *gateway) markRead(c echo.Context) error {
	id := model.ConversationID(c.Param("id"))
	params := readParams{}
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := g.engine.MarkRead(c.Request().Context(), id, model.MessageID(params.MessageID)); err != nil {
		if errors.Is(err, model.ErrorInvalidCursor) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) recallMessage(c echo.Context) error {
	id := model.MessageID(c.Param("id"))
	params := recallParams{}
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := g.engine.RecallMessage(c.Request().Context(), model.ConversationID(params.ConversationID), id); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) editMessage(c echo.Context) error {
	id := model.MessageID(c.Param("id"))
	params := editParams{}
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := g.engine.EditMessage(c.Request().Context(), model.ConversationID(params.ConversationID), id, params.Content); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) setFlags(c echo.Context) error {
	id := model.ConversationID(c.Param("id"))
	params := flagParams{}
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	apply := func(err error) error {
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return nil
	}
	if params.Pinned != nil {
		if err := apply(g.engine.SetPinned(id, *params.Pinned)); err != nil {
			return err
		}
	}
	if params.Muted != nil {
		if err := apply(g.engine.SetMuted(id, *params.Muted)); err != nil {
			return err
		}
	}
	if params.Archived != nil {
		if err := apply(g.engine.SetArchived(id, *params.Archived)); err != nil {
			return err
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) sendTyping(c echo.Context) error {
	id := model.ConversationID(c.Param("id"))
	if err := g.engine.SendTyping(id); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *gateway) status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"degraded": g.engine.Degraded(),
		"active":   g.engine.ActiveConversation(),
	})
}

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}
	if config.UserID == "" {
		log.Fatal("USER_ID is required")
	}

	userID := model.UserID(config.UserID)
	token := config.AuthToken

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Parley-User", config.UserID)

	channel := transport.New(config.SocketURL, header, config.ReconnectAttempts, config.ReconnectDelay)
	api := apiclient.New(config.APIBaseURL, config.RequestTimeout, userID, func() string {
		return token
	})

	var store engine.Store
	if config.DataDirectory != "" {
		s, err := snapshot.New(userID, config)
		if err != nil {
			log.Fatalf("opening snapshot store: %+v", err)
		}
		store = s
	}

	eng := engine.New(config, userID, channel, api, store)
	eng.Listen(func(change engine.Change) {
		log.Debugf("change: kind=%d conversation=%s", change.Kind, change.ConversationID)
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	err = eng.Start(ctx)
	cancel()
	if err != nil {
		log.Warnf("starting sync: %+v", err)
	}

	server := echo.New()
	server.Use(middleware.BodyLimit("100M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("Parley"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)

	g := &gateway{engine: eng}

	server.GET("/api/status", g.status)
	server.GET("/api/conversations", g.listConversations)
	server.GET("/api/conversations/:id/messages", g.listMessages)
	server.POST("/api/conversations/:id/open", g.openConversation)
	server.POST("/api/conversations/close", g.closeConversation)
	server.POST("/api/conversations/:id/older", g.loadOlder)
	server.POST("/api/conversations/:id/read", g.markRead)
	server.POST("/api/conversations/:id/typing", g.sendTyping)
	server.PATCH("/api/conversations/:id/flags", g.setFlags)
	server.POST("/api/messages", g.sendMessage)
	server.POST("/api/messages/retry", g.retryMessage)
	server.POST("/api/messages/:id/recall", g.recallMessage)
	server.PATCH("/api/messages/:id", g.editMessage)

	go func() {
		metrics := echo.New()
		metrics.GET("/metrics", echoprometheus.NewHandler())
		if err := metrics.Start(":8081"); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(config.ListenAddress); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	eng.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Logger.Fatal(err)
	}
}
