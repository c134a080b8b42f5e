// Package api serves the sponsor over HTTP: a faucet endpoint, a sponsor-and-return
// endpoint for the demo payload and the bearer protected gas station endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
	"github.com/iota-community/sponsored-transactions-demo/sigs"
	"github.com/iota-community/sponsored-transactions-demo/sponsor"
)

var log = logging.Logger("sponsor/api")

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = xerrors.New("bad request")

// Funder funds an address at most once.
type Funder interface {
	Fund(ctx context.Context, addr types.Address) (types.ObjectID, error)
}

type Config struct {
	ListenAddress string
	// AuthToken guards the /v1 gas station routes. When empty those routes reject every
	// request.
	AuthToken string
	// Timeout bounds the handling of a single request.
	Timeout   time.Duration
	GasBudget uint64
	Contract  config.ContractConf
}

type Server struct {
	cfg     Config
	chain   lens.ReadAPI
	funder  Funder
	builder *sponsor.Builder
	station *gasstation.Manager
	ks      keys.Keystore
	server  *echo.Echo
}

func NewServer(cfg Config, chain lens.ReadAPI, funder Funder, builder *sponsor.Builder, station *gasstation.Manager, ks keys.Keystore) *Server {
	s := &Server{
		cfg:     cfg,
		chain:   chain,
		funder:  funder,
		builder: builder,
		station: station,
		ks:      ks,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover(), observe, s.deadline)

	e.GET("/", s.welcome)
	e.POST("/faucet", s.fund)
	e.POST("/sponsor", s.sponsor)

	if cfg.AuthToken == "" {
		log.Warnw("no gas station auth token configured, /v1 routes will reject every request")
	}
	v1 := e.Group("/v1", s.authorize)
	v1.POST("/reserve_gas", s.reserveGas)
	v1.POST("/execute_tx", s.executeTx)
	v1.GET("/reservations", s.listReservations)
	v1.GET("/reservations/:id", s.getReservation)
	v1.GET("/stats", s.stats)

	s.server = e
	return s
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.server
}

// Start serves until Shutdown is called, after which it returns http.ErrServerClosed.
func (s *Server) Start() error {
	log.Infow("starting api server", "listen", s.cfg.ListenAddress, "sponsor", s.station.Sponsor())
	return s.server.Start(s.cfg.ListenAddress)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) welcome(c echo.Context) error {
	id, err := s.chain.ChainIdentifier(c.Request().Context())
	if err != nil {
		log.Warnw("chain identifier", "error", err)
		return c.String(http.StatusServiceUnavailable, "chain api unavailable")
	}
	return c.String(http.StatusOK, fmt.Sprintf("welcome to IOTA Testnet %s", id))
}

func (s *Server) fund(c echo.Context) error {
	var req FundRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, xerrors.Errorf("%w: %v", errBadRequest, err))
	}
	addr, err := types.ParseAddress(req.Sender)
	if err != nil {
		return fail(c, err)
	}

	coin, err := s.funder.Fund(c.Request().Context(), addr)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, FundResponse{Address: addr, Status: "funded", Coin: coin})
}

// sponsor reserves gas for the demo payload, builds the transaction for the recipient
// and returns it signed by the sponsor. The reservation is released if any step fails;
// otherwise it stays leased until executed through the gas station or expired.
func (s *Server) sponsor(c echo.Context) error {
	ctx := c.Request().Context()

	var req SponsorRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, xerrors.Errorf("%w: %v", errBadRequest, err))
	}
	recipient, err := types.ParseAddress(req.Recipient)
	if err != nil {
		return fail(c, err)
	}
	payload, err := sponsor.FreeTrialPayload(s.cfg.Contract, req.Content)
	if err != nil {
		return fail(c, err)
	}

	res, err := s.station.Reserve(ctx, s.cfg.GasBudget, s.station.DefaultTTL())
	if err != nil {
		return fail(c, err)
	}
	signed, err := s.buildAndSign(ctx, recipient, payload, res)
	if err != nil {
		if rerr := s.station.Release(ctx, res.ID); rerr != nil {
			log.Warnw("release reservation after failed sponsoring", "reservation", res.ID, "error", rerr)
		}
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, SponsorResponse{
		TxBytes:          base64.StdEncoding.EncodeToString(signed.TxBytes),
		SponsorSignature: signed.Signature.Base64(),
		ReservationID:    res.ID,
		ExpiresAt:        res.ExpiresAt,
	})
}

func (s *Server) buildAndSign(ctx context.Context, recipient types.Address, payload types.ProgrammableTransaction, res *gasstation.Reservation) (*sigs.SponsorSignature, error) {
	tx, err := s.builder.Build(ctx, sponsor.BuildRequest{
		Sender:    recipient,
		Sponsor:   res.Sponsor,
		Payload:   payload,
		GasCoins:  res.Coins,
		GasBudget: res.Amount,
	})
	if err != nil {
		return nil, err
	}
	return sigs.SponsorSign(ctx, s.ks, res.Sponsor, tx)
}

func (s *Server) reserveGas(c echo.Context) error {
	var req ReserveGasRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ReserveGasResponse{Error: errorString(err)})
	}
	ttl := time.Duration(req.ReserveDurationSecs) * time.Second
	res, err := s.station.Reserve(c.Request().Context(), req.GasBudget, ttl)
	if err != nil {
		return c.JSON(statusOf(err), ReserveGasResponse{Error: errorString(err)})
	}
	return c.JSON(http.StatusOK, ReserveGasResponse{Result: &ReserveGasResult{
		SponsorAddress: res.Sponsor,
		ReservationID:  res.ID,
		GasCoins:       res.Coins,
	}})
}

func (s *Server) executeTx(c echo.Context) error {
	var req ExecuteTxRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ExecuteTxResponse{Error: errorString(err)})
	}
	txBytes, err := base64.StdEncoding.DecodeString(req.TxBytes)
	if err != nil {
		err = xerrors.Errorf("%w: tx_bytes: %v", errBadRequest, err)
		return c.JSON(http.StatusBadRequest, ExecuteTxResponse{Error: errorString(err)})
	}
	sig, err := keys.ParseSignatureBase64(req.UserSig)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ExecuteTxResponse{Error: errorString(err)})
	}

	effects, err := s.station.Execute(c.Request().Context(), req.ReservationID, txBytes, sig)
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			log.Errorw("execute sponsored transaction", "reservation", req.ReservationID, "error", err)
		}
		return c.JSON(status, ExecuteTxResponse{Error: errorString(err)})
	}
	return c.JSON(http.StatusOK, ExecuteTxResponse{Effects: effectsFrom(effects)})
}

func (s *Server) listReservations(c echo.Context) error {
	return c.JSON(http.StatusOK, s.station.List())
}

func (s *Server) getReservation(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, xerrors.Errorf("%w: reservation id: %v", errBadRequest, err))
	}
	res, err := s.station.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.station.Stats())
}

func (s *Server) authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if s.cfg.AuthToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		}
		return next(c)
	}
}

func (s *Server) deadline(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Timeout <= 0 {
			return next(c)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.Timeout)
		defer cancel()
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// observe traces every request and records its duration by route and status class.
func observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		spanCtx, span := otel.Tracer("").Start(req.Context(), "api."+req.Method+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.route", c.Path())),
		)
		defer span.End()
		c.SetRequest(req.WithContext(spanCtx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		ctx := metrics.WithTagValue(c.Request().Context(), metrics.Route, c.Path())
		ctx = metrics.WithTagValue(ctx, metrics.Status, fmt.Sprintf("%dxx", status/100))
		metrics.RecordDuration(ctx, metrics.HTTPRequestDuration, time.Since(start))
		log.Debugw("handled request", "method", c.Request().Method, "route", c.Path(), "status", status, "took", time.Since(start))
		return nil
	}
}

func fail(c echo.Context, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "route", c.Path(), "error", err)
	} else {
		log.Debugw("request rejected", "route", c.Path(), "status", status, "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: err.Error()})
}
