package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"evcs/admission"
	"evcs/internal"
	"evcs/internal/config"
	"evcs/models"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	apiPrefix  = "/api/v1"
	apiTimeout = 30 * time.Second
)

type admissionController interface {
	RemoteStart(ctx context.Context, chargePointId string, connectorId int, idTag string) (admission.Outcome, error)
	RemoteStop(ctx context.Context, chargePointId string, connectorId int) (admission.Outcome, error)
}

// Api operator facing endpoints: remote session control and provisioning
type Api struct {
	conf       *config.Config
	httpServer *http.Server
	router     *httprouter.Router
	admission  admissionController
	stations   internal.StationDirectory
	balances   internal.BalanceStore
	logger     internal.LogHandler
	zap        *zap.Logger
}

type transactionCommand struct {
	ChargePointId string `json:"charge_point_id"`
	ConnectorId   int    `json:"connector_id"`
	IdTag         string `json:"id_tag"`
}

type commandResult struct {
	Code    int               `json:"code"`
	Outcome admission.Outcome `json:"outcome"`
}

type chargePointRequest struct {
	RegistrationStatus string    `json:"registration_status"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Prices             []float64 `json:"prices"`
}

type userTagRequest struct {
	Username    string     `json:"username"`
	Status      string     `json:"status"`
	Balance     float64    `json:"balance"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	ParentIdTag string     `json:"parent_id_tag,omitempty"`
	Note        string     `json:"note"`
}

type topUpRequest struct {
	Amount float64 `json:"amount"`
}

type balanceResult struct {
	IdTag   string  `json:"id_tag"`
	Balance float64 `json:"balance"`
}

func NewServerApi(conf *config.Config, logger internal.LogHandler, zapLogger *zap.Logger) *Api {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	api := Api{
		conf:   conf,
		logger: logger,
		zap:    zapLogger,
		router: httprouter.New(),
	}
	api.register()
	api.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", conf.Api.BindIP, conf.Api.Port),
		Handler:           api.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &api
}

func (s *Api) SetAdmissionController(controller admissionController) {
	s.admission = controller
}

func (s *Api) SetRepositories(stations internal.StationDirectory, balances internal.BalanceStore) {
	s.stations = stations
	s.balances = balances
}

func (s *Api) Handler() http.Handler {
	return s.router
}

func (s *Api) register() {
	s.router.POST(apiPrefix+"/transaction/start", s.requestLog(s.startTransaction))
	s.router.POST(apiPrefix+"/transaction/stop", s.requestLog(s.stopTransaction))
	s.router.PUT(apiPrefix+"/charge_point/:id", s.requestLog(s.putChargePoint))
	s.router.PUT(apiPrefix+"/user_tag/:id", s.requestLog(s.putUserTag))
	s.router.POST(apiPrefix+"/user_tag/:id/topup", s.requestLog(s.topUp))
}

func (s *Api) Start() error {
	var err error
	if s.conf.Api.TLS {
		cert, certErr := tls.LoadX509KeyPair(s.conf.Api.CertFile, s.conf.Api.KeyFile)
		if certErr != nil {
			return fmt.Errorf("api: failed to load certificate: %w", certErr)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Api) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLog logs incoming requests and the responses sent back
func (s *Api) requestLog(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		bodyBytes, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		s.zap.Info("api request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.String("remote", r.RemoteAddr),
			zap.ByteString("body", bodyBytes),
		)

		wl := &responseWriterLogger{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		h(wl, r, ps)

		s.zap.Info("api response",
			zap.Int("code", wl.statusCode),
			zap.ByteString("body", wl.body),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (wl *responseWriterLogger) WriteHeader(code int) {
	wl.statusCode = code
	wl.ResponseWriter.WriteHeader(code)
}

func (wl *responseWriterLogger) Write(b []byte) (int, error) {
	wl.body = append(wl.body, b...)
	return wl.ResponseWriter.Write(b)
}

func (s *Api) writeJson(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("api: encode response", err)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func (s *Api) startTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd transactionCommand
	if err := decodeBody(r, &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cmd.ChargePointId == "" || cmd.ConnectorId < 1 || cmd.IdTag == "" {
		http.Error(w, "charge_point_id, connector_id and id_tag are required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	outcome, err := s.admission.RemoteStart(ctx, cmd.ChargePointId, cmd.ConnectorId, cmd.IdTag)
	if err != nil {
		s.logger.Error("api: remote start", err)
		http.Error(w, "remote start failed", http.StatusInternalServerError)
		return
	}
	s.writeJson(w, http.StatusOK, commandResult{Code: outcome.Code(), Outcome: outcome})
}

func (s *Api) stopTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var cmd transactionCommand
	if err := decodeBody(r, &cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cmd.ChargePointId == "" || cmd.ConnectorId < 1 {
		http.Error(w, "charge_point_id and connector_id are required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	outcome, err := s.admission.RemoteStop(ctx, cmd.ChargePointId, cmd.ConnectorId)
	if err != nil {
		s.logger.Error("api: remote stop", err)
		http.Error(w, "remote stop failed", http.StatusInternalServerError)
		return
	}
	s.writeJson(w, http.StatusOK, commandResult{Code: outcome.Code(), Outcome: outcome})
}

func validRegistrationStatus(status string) bool {
	switch status {
	case "Accepted", "Pending", "Rejected", "Unknown":
		return true
	}
	return false
}

func (s *Api) putChargePoint(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req chargePointRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RegistrationStatus == "" {
		req.RegistrationStatus = "Accepted"
	}
	if !validRegistrationStatus(req.RegistrationStatus) {
		http.Error(w, "invalid registration_status", http.StatusBadRequest)
		return
	}
	chargePoint := &models.ChargePoint{
		Id:                 ps.ByName("id"),
		RegistrationStatus: req.RegistrationStatus,
		Title:              req.Title,
		Description:        req.Description,
		Prices:             req.Prices,
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	if err := s.stations.AddChargePoint(ctx, chargePoint); err != nil {
		s.logger.Error("api: add charge point", err)
		http.Error(w, "saving charge point failed", http.StatusInternalServerError)
		return
	}
	stored, err := s.stations.GetChargePoint(ctx, chargePoint.Id)
	if err != nil {
		s.logger.Error("api: get charge point", err)
		http.Error(w, "reading charge point failed", http.StatusInternalServerError)
		return
	}
	s.logger.FeatureEvent("Api", chargePoint.Id, fmt.Sprintf("charge point provisioned as %s", chargePoint.RegistrationStatus))
	s.writeJson(w, http.StatusOK, stored)
}

func (s *Api) putUserTag(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req userTagRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		req.Status = "Accepted"
	}
	userTag := &models.UserTag{
		IdTag:          ps.ByName("id"),
		Username:       req.Username,
		Status:         req.Status,
		Balance:        req.Balance,
		ExpiryDate:     req.ExpiryDate,
		ParentIdTag:    req.ParentIdTag,
		Note:           req.Note,
		DateRegistered: time.Now(),
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	if err := s.balances.AddUserTag(ctx, userTag); err != nil {
		s.logger.Error("api: add user tag", err)
		http.Error(w, "saving user tag failed", http.StatusInternalServerError)
		return
	}
	stored, err := s.balances.GetUserTag(ctx, userTag.IdTag)
	if err != nil {
		s.logger.Error("api: get user tag", err)
		http.Error(w, "reading user tag failed", http.StatusInternalServerError)
		return
	}
	s.writeJson(w, http.StatusOK, stored)
}

func (s *Api) topUp(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req topUpRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	idTag := ps.ByName("id")
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	balance, err := s.balances.IncreaseBalance(ctx, idTag, req.Amount)
	if errors.Is(err, internal.ErrNotFound) {
		http.Error(w, "user tag not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("api: top up", err)
		http.Error(w, "top up failed", http.StatusInternalServerError)
		return
	}
	s.logger.FeatureEvent("Api", "", fmt.Sprintf("id tag %s topped up by %0.2f, balance %0.2f", idTag, req.Amount, balance))
	s.writeJson(w, http.StatusOK, balanceResult{IdTag: idTag, Balance: balance})
}
