package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iwvelando/implied-vol/internal/config"
	"github.com/iwvelando/implied-vol/internal/valuation"
	"github.com/iwvelando/implied-vol/pkg/bsm"
	"github.com/iwvelando/implied-vol/pkg/constants"
	"github.com/iwvelando/implied-vol/pkg/output"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type handler struct {
	logger      *zap.Logger
	maxBodySize int64
	version     string
}

// NewHandler constructs the HTTP handler that serves the pricing API.
func NewHandler(logger *zap.Logger, maxBodySize int64, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	if maxBodySize <= 0 {
		maxBodySize = constants.DefaultMaxBodySizeBytes
	}

	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{logger: logger, maxBodySize: maxBodySize, version: trimmedVersion}

	mux := http.NewServeMux()

	// Single option price and vega
	mux.HandleFunc("/api/price", h.handlePrice)

	// Single implied volatility solve
	mux.HandleFunc("/api/implied-volatility", h.handleImpliedVolatility)

	// YAML configuration of many quotes, same format as the CLI
	mux.HandleFunc("/api/batch", h.handleBatch)

	mux.HandleFunc("/api/version", h.handleVersion)

	return mux
}

type priceRequest struct {
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	Expiry     float64 `json:"expiry"`
	Rate       float64 `json:"rate"`
	Volatility float64 `json:"volatility"`
}

type priceResponse struct {
	Price float64 `json:"price"`
	Vega  float64 `json:"vega"`
	D1    float64 `json:"d1"`
	D2    float64 `json:"d2"`
}

type impliedVolatilityRequest struct {
	Spot            float64 `json:"spot"`
	Strike          float64 `json:"strike"`
	Expiry          float64 `json:"expiry"`
	Rate            float64 `json:"rate"`
	MarketPrice     float64 `json:"marketPrice"`
	InitialEstimate float64 `json:"initialEstimate"`
	MaxIterations   int     `json:"maxIterations"`
	Tolerance       float64 `json:"tolerance"`
	VegaEpsilon     float64 `json:"vegaEpsilon"`
}

type impliedVolatilityResponse struct {
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Iterations        int     `json:"iterations"`
	PriceError        float64 `json:"priceError"`
	Vega              float64 `json:"vega"`
}

type errorResponse struct {
	Error          string   `json:"error"`
	Kind           string   `json:"kind,omitempty"`
	Iterations     *int     `json:"iterations,omitempty"`
	LastVolatility *float64 `json:"lastVolatility,omitempty"`
}

type batchResponse struct {
	Valuations []valuationRow `json:"valuations"`
	Warnings   []string       `json:"warnings,omitempty"`
	CSV        string         `json:"csv"`
	Duration   string         `json:"duration"`
	ConfigYAML string         `json:"configYaml,omitempty"`
}

type valuationRow struct {
	Name              string   `json:"name"`
	Mode              string   `json:"mode"`
	Spot              float64  `json:"spot"`
	Strike            float64  `json:"strike"`
	Expiry            float64  `json:"expiry"`
	Rate              float64  `json:"rate"`
	Volatility        *float64 `json:"volatility,omitempty"`
	MarketPrice       *float64 `json:"marketPrice,omitempty"`
	Price             *float64 `json:"price,omitempty"`
	Vega              *float64 `json:"vega,omitempty"`
	Iterations        int      `json:"iterations,omitempty"`
	Error             string   `json:"error,omitempty"`
	ErrorKind         string   `json:"errorKind,omitempty"`
	InitialEstimate   *float64 `json:"initialEstimate,omitempty"`
	ImpliedVolatility *float64 `json:"impliedVolatility,omitempty"`
}

func (h *handler) handlePrice(w http.ResponseWriter, r *http.Request) {
	const op = "server.handlePrice"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req priceRequest
	if status, err := h.decodeJSON(w, r, &req); err != nil {
		h.respondErrorWithOp(w, status, err.Error(), op)
		return
	}

	p := bsm.Params{Spot: req.Spot, Strike: req.Strike, Expiry: req.Expiry, Rate: req.Rate, Volatility: req.Volatility}
	d1, d2, err := p.D1D2()
	if err != nil {
		h.respondModelError(w, err, op)
		return
	}
	price, err := p.Price()
	if err != nil {
		h.respondModelError(w, err, op)
		return
	}
	vega, err := p.Vega()
	if err != nil {
		h.respondModelError(w, err, op)
		return
	}

	h.writeJSON(w, http.StatusOK, priceResponse{Price: price, Vega: vega, D1: d1, D2: d2})
}

func (h *handler) handleImpliedVolatility(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleImpliedVolatility"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req impliedVolatilityRequest
	if status, err := h.decodeJSON(w, r, &req); err != nil {
		h.respondErrorWithOp(w, status, err.Error(), op)
		return
	}

	solver, err := bsm.NewSolver(h.logger, bsm.SolverSettings{
		MaxIterations: req.MaxIterations,
		Tolerance:     req.Tolerance,
		VegaEpsilon:   req.VegaEpsilon,
	})
	if err != nil {
		h.respondModelError(w, err, op)
		return
	}

	seed := req.InitialEstimate
	if seed == 0 {
		seed = constants.DefaultInitialEstimate
	}
	p := bsm.Params{Spot: req.Spot, Strike: req.Strike, Expiry: req.Expiry, Rate: req.Rate, Volatility: seed}
	result, err := solver.Solve(p, req.MarketPrice)
	if err != nil {
		h.respondModelError(w, err, op)
		return
	}

	vega, err := p.WithVolatility(result.Volatility).Vega()
	if err != nil {
		h.respondModelError(w, err, op)
		return
	}

	h.writeJSON(w, http.StatusOK, impliedVolatilityResponse{
		ImpliedVolatility: result.Volatility,
		Iterations:        result.Iterations,
		PriceError:        result.PriceError,
		Vega:              vega,
	})
}

func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleBatch"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	data, status, err := h.readBody(w, r)
	if err != nil {
		h.respondErrorWithOp(w, status, err.Error(), op)
		return
	}

	conf, err := config.LoadConfigurationFromBytes(data)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	warnings := conf.ValidateConfiguration()
	for _, warning := range warnings {
		h.logger.Warn("Configuration warning: "+warning,
			zap.String("op", op),
		)
	}

	results, err := valuation.GetValuations(r.Context(), h.logger, *conf)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to evaluate quotes: %v", err), op)
		return
	}

	var csvBuf bytes.Buffer
	output.CsvFormat(&csvBuf, results)

	configYAML, err := yaml.Marshal(conf)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode configuration: %v", err), op)
		return
	}

	h.writeJSON(w, http.StatusOK, batchResponse{
		Valuations: buildRows(results),
		Warnings:   warnings,
		CSV:        csvBuf.String(),
		Duration:   time.Since(start).String(),
		ConfigYAML: string(configYAML),
	})
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds limit of %d bytes", h.maxBodySize)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("failed to read request body: %v", err)
	}
	return data, http.StatusOK, nil
}

func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) (int, error) {
	data, status, err := h.readBody(w, r)
	if err != nil {
		return status, err
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %v", err)
	}
	return http.StatusOK, nil
}

// respondModelError maps pkg/bsm errors onto 422 responses carrying the
// error kind and, for solver failures, where the iteration stopped.
func (h *handler) respondModelError(w http.ResponseWriter, err error, op string) {
	kind := bsm.Kind(err)
	if kind == "" {
		h.respondErrorWithOp(w, http.StatusInternalServerError, err.Error(), op)
		return
	}

	h.logger.Info("model rejected request",
		zap.String("op", op),
		zap.String("kind", kind),
		zap.Error(err),
	)

	resp := errorResponse{Error: err.Error(), Kind: kind}
	var solverErr *bsm.SolverError
	if errors.As(err, &solverErr) {
		iterations := solverErr.Iterations
		last := solverErr.Volatility
		resp.Iterations = &iterations
		resp.LastVolatility = &last
	}
	h.writeJSON(w, http.StatusUnprocessableEntity, resp)
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func buildRows(results []valuation.Valuation) []valuationRow {
	rows := make([]valuationRow, 0, len(results))
	for _, result := range results {
		row := valuationRow{
			Name:   result.Name,
			Mode:   result.Mode,
			Spot:   result.Params.Spot,
			Strike: result.Params.Strike,
			Expiry: result.Params.Expiry,
			Rate:   result.Params.Rate,
		}

		if result.Mode == constants.ModeImpliedVolatility {
			market := result.MarketPrice
			seed := result.Params.Volatility
			row.MarketPrice = &market
			row.InitialEstimate = &seed
		} else if result.Params.Volatility != 0 {
			sigma := result.Params.Volatility
			row.Volatility = &sigma
		}

		if result.Failed() {
			row.Error = result.Err.Error()
			row.ErrorKind = bsm.Kind(result.Err)
			rows = append(rows, row)
			continue
		}

		price := result.Price
		vega := result.Vega
		row.Price = &price
		row.Vega = &vega
		if result.Mode == constants.ModeImpliedVolatility {
			sigma := result.ImpliedVolatility
			row.ImpliedVolatility = &sigma
			row.Iterations = result.Iterations
		}
		rows = append(rows, row)
	}
	return rows
}
