package main

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/zerodha/logf"

	"github.com/mr-karan/kvbridge/pkg/relay"
)

type App struct {
	lo     logf.Logger
	relay  *relay.Relay
	tokens *relay.TokenSet

	databaseID  string
	accessToken string
	tokenTTL    time.Duration

	// baseCtx parents every watch stream so a server shutdown ends them.
	baseCtx context.Context
}

// bootstrapResponse is the JSON body served at the root endpoint.
type bootstrapResponse struct {
	Version    int             `json:"version"`
	DatabaseID string          `json:"databaseId"`
	Endpoints  []endpointEntry `json:"endpoints"`
	Token      string          `json:"token"`
	ExpiresAt  string          `json:"expiresAt"`
}

type endpointEntry struct {
	URL         string `json:"url"`
	Consistency string `json:"consistency"`
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(ctx *fasthttp.RequestCtx) (string, bool) {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("WWW-Authenticate", "Bearer")
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
}

// requireAccessToken admits only the long-lived access token.
func (app *App) requireAccessToken(ctx *fasthttp.RequestCtx) bool {
	tok, ok := bearerToken(ctx)
	if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(app.accessToken)) != 1 {
		unauthorized(ctx)
		return false
	}
	return true
}

// requireEphemeralToken admits only a live ephemeral token.
func (app *App) requireEphemeralToken(ctx *fasthttp.RequestCtx) bool {
	tok, ok := bearerToken(ctx)
	if !ok || !app.tokens.Validate(tok) {
		unauthorized(ctx)
		return false
	}
	return true
}

// handleBootstrap authenticates the access token and issues an ephemeral
// one bound to the database.
func (app *App) handleBootstrap(ctx *fasthttp.RequestCtx) {
	if !app.requireAccessToken(ctx) {
		return
	}

	token, expiresAt := app.tokens.Issue(app.tokenTTL)

	resp := bootstrapResponse{
		Version:    1,
		DatabaseID: app.databaseID,
		Endpoints: []endpointEntry{
			{URL: "/kv", Consistency: "strong"},
		},
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(resp)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetContentType("application/json")
	ctx.Write(body)
}

func (app *App) handleSnapshotRead(ctx *fasthttp.RequestCtx) {
	if !app.requireEphemeralToken(ctx) {
		return
	}

	resp, err := app.relay.SnapshotRead(ctx.PostBody())
	if err != nil {
		app.fail(ctx, "snapshot read failed", err)
		return
	}
	ctx.Write(resp)
}

func (app *App) handleAtomicWrite(ctx *fasthttp.RequestCtx) {
	if !app.requireEphemeralToken(ctx) {
		return
	}

	resp, err := app.relay.AtomicWrite(ctx.PostBody())
	if err != nil {
		app.fail(ctx, "atomic write failed", err)
		return
	}
	ctx.Write(resp)
}

// handleWatch upgrades the response into a stream of framed update
// batches, one frame per engine batch, flushed as they appear.
func (app *App) handleWatch(ctx *fasthttp.RequestCtx) {
	if !app.requireEphemeralToken(ctx) {
		return
	}

	wctx, cancel := context.WithCancel(app.baseCtx)
	ws, err := app.relay.Watch(wctx, ctx.PostBody())
	if err != nil {
		cancel()
		app.fail(ctx, "watch failed", err)
		return
	}

	// Send the status line and headers before the first frame exists.
	ctx.Response.ImmediateHeaderFlush = true
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer ws.Close()

		for {
			frame, err := ws.NextFrame(wctx)
			if err != nil {
				if !relay.IsStreamClosed(err) && !errors.Is(err, context.Canceled) {
					app.lo.Error("watch stream ended", "error", err)
				}
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			// One batch, one frame, one flush; a failed flush means the
			// client went away.
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}

// fail maps relay errors onto HTTP statuses.
func (app *App) fail(ctx *fasthttp.RequestCtx, msg string, err error) {
	if errors.Is(err, relay.ErrBadRequest) {
		app.lo.Info(msg, "error", err)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	app.lo.Error(msg, "error", err)
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
}
