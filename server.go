package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"go-badge-printer/badge"
	"go-badge-printer/images"
	"go-badge-printer/models"
	"go-badge-printer/notify"
	"go-badge-printer/operator"
	"go-badge-printer/printdoc"
	"go-badge-printer/printing"
	"go-badge-printer/render"

	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_INVALID_REQUEST = "error:invalid-request"
const ERR_INVALID_RECORD = "error:invalid-record"
const ERR_UNKNOWN_SESSION = "error:unknown-session"
const ERR_UNKNOWN_MERCHANT = "error:unknown-merchant"
const ERR_BACKEND = "error:backend"
const ERR_PRINT_IN_PROGRESS = "error:print-in-progress"
const ERR_ALREADY_PRINTED = "error:already-printed"
const ERR_PRINT_FAILED = "error:print-failed"
const ERR_NO_DOCUMENT = "error:no-document"

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

// DocumentStore gives access to documents saved by earlier print jobs.
type DocumentStore interface {
	Open(fileName string) (path string, err error)
}

type ServerState struct {
	dialogStorage    printing.DialogStore
	merchants        MerchantClient
	printService     *printing.Service
	converter        images.Converter
	renderer         *render.Renderer
	documents        DocumentStore
	messages         *notify.Messages
	verifier         *operator.Verifier
	metricsHandler   http.Handler
	institutionalRef string
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if state.verifier == nil {
		return nil, fmt.Errorf("no operator token verifier configured")
	}
	router := NewRouter(state)

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// printing waits for image downloads, so writes get more time than reads
		WriteTimeout: 2 * time.Minute,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

func NewRouter(state *ServerState) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	}).Methods(http.MethodGet)

	if state.metricsHandler != nil {
		router.Handle("/metrics", state.metricsHandler).Methods(http.MethodGet)
	}

	dialogs := router.PathPrefix("/api/badge-dialogs").Subrouter()
	dialogs.Use(state.verifier.Middleware)

	dialogs.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		handleOpenDialog(state, w, r)
	}).Methods(http.MethodPost)
	dialogs.HandleFunc("/{session}", func(w http.ResponseWriter, r *http.Request) {
		handleGetDialog(state, w, r)
	}).Methods(http.MethodGet)
	dialogs.HandleFunc("/{session}", func(w http.ResponseWriter, r *http.Request) {
		handleCloseDialog(state, w, r)
	}).Methods(http.MethodDelete)
	dialogs.HandleFunc("/{session}/flip", func(w http.ResponseWriter, r *http.Request) {
		handleFlip(state, w, r)
	}).Methods(http.MethodPost)
	dialogs.HandleFunc("/{session}/preview", func(w http.ResponseWriter, r *http.Request) {
		handlePreview(state, w, r)
	}).Methods(http.MethodGet)
	dialogs.HandleFunc("/{session}/print", func(w http.ResponseWriter, r *http.Request) {
		handlePrint(state, w, r)
	}).Methods(http.MethodPost)
	dialogs.HandleFunc("/{session}/document", func(w http.ResponseWriter, r *http.Request) {
		handleDocument(state, w, r)
	}).Methods(http.MethodGet)

	slog.Debug("Registered all API routes")
	return router
}

func handleOpenDialog(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request models.OpenDialogRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_REQUEST, "failed to decode open dialog request", err)
		return
	}

	var record *badge.CardRecord
	switch {
	case len(request.Record) > 0 && string(request.Record) != "null":
		record = &badge.CardRecord{}
		if err := json.Unmarshal(request.Record, record); err != nil {
			respondWithErr(w, http.StatusBadRequest, ERR_INVALID_REQUEST, "failed to decode card record", err)
			return
		}
	case request.MerchantID > 0:
		var err error
		record, err = state.merchants.GetMerchant(r.Context(), request.MerchantID)
		if errors.Is(err, ErrMerchantNotFound) {
			respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_MERCHANT, "merchant not found", err)
			return
		}
		if err != nil {
			respondWithErr(w, http.StatusBadGateway, ERR_BACKEND, "failed to fetch merchant", err)
			return
		}
	default:
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_REQUEST, "open dialog request without record", nil)
		return
	}

	model, err := badge.BuildCardModel(*record, state.printService.ExpiryDate())
	if err != nil {
		respondWithErr(w, http.StatusUnprocessableEntity, ERR_INVALID_RECORD, "invalid card record", err)
		return
	}

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	dialog := printing.NewDialog(sessionId, *record, time.Now())
	if err := state.dialogStorage.Create(r.Context(), dialog); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store dialog", err)
		return
	}

	slog.Info("Badge dialog opened", "session_id", sessionId, "record_id", record.ID, "state", dialog.State)
	if err := writeJSON(w, http.StatusCreated, dialogResponse(dialog, &model)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleGetDialog(state *ServerState, w http.ResponseWriter, r *http.Request) {
	dialog, ok := loadDialog(state, w, r)
	if !ok {
		return
	}
	writeDialog(state, w, dialog)
}

func handleFlip(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	dialog, err := state.dialogStorage.Update(r.Context(), mux.Vars(r)["session"], func(d *printing.Dialog) error {
		d.Flip()
		return nil
	})
	if err != nil {
		respondWithStoreErr(w, err)
		return
	}
	slog.Debug("Badge flipped", "session_id", dialog.SessionID, "side", dialog.Side)
	writeDialog(state, w, dialog)
}

func handleCloseDialog(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["session"]
	if err := state.dialogStorage.Delete(r.Context(), sessionId); err != nil {
		respondWithStoreErr(w, err)
		return
	}
	slog.Info("Badge dialog closed", "session_id", sessionId)
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview renders one face as PNG. Images that cannot be resolved are
// drawn as empty boxes.
func handlePreview(state *ServerState, w http.ResponseWriter, r *http.Request) {
	dialog, ok := loadDialog(state, w, r)
	if !ok {
		return
	}

	side := dialog.Side
	if q := r.URL.Query().Get("side"); q != "" {
		parsed, err := badge.ParseSide(q)
		if err != nil {
			respondWithErr(w, http.StatusBadRequest, ERR_INVALID_REQUEST, "invalid side", err)
			return
		}
		side = parsed
	}

	model, err := badge.BuildCardModel(dialog.Record, state.printService.ExpiryDate())
	if err != nil {
		respondWithErr(w, http.StatusUnprocessableEntity, ERR_INVALID_RECORD, "invalid card record", err)
		return
	}

	var assets render.Assets
	if side == badge.Front {
		assets.Photo = resolvePreviewImage(r.Context(), state.converter, model.ProfilePhotoRef)
		assets.Signature = resolvePreviewImage(r.Context(), state.converter, model.SignaturePhotoRef)
	} else {
		assets.Institutional = resolvePreviewImage(r.Context(), state.converter, &state.institutionalRef)
	}

	img, err := state.renderer.RenderPreview(model, side, assets)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to render preview", err)
		return
	}
	png, err := render.EncodePNG(img)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to encode preview", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func resolvePreviewImage(ctx context.Context, converter images.Converter, ref *string) image.Image {
	if ref == nil || *ref == "" {
		return nil
	}
	raster, err := converter.ToEmbeddablePixels(ctx, *ref)
	if err != nil {
		slog.Warn("Preview image unavailable, drawing empty box", "error", err)
		return nil
	}
	return raster.Image
}

func handlePrint(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	identity, ok := operator.FromContext(r.Context())
	if !ok {
		respondWithErr(w, http.StatusUnauthorized, "unauthorized", "print without operator identity", nil)
		return
	}

	sessionId := mux.Vars(r)["session"]
	toasts := &notify.Collector{Next: notify.LogNotifier{Logger: slog.With("session_id", sessionId)}}

	outcome, err := state.printService.Print(r.Context(), printing.PrintRequest{
		SessionID:  sessionId,
		OperatorID: identity.UserID,
		Notifier:   toasts,
		Messages:   state.messages.For(r.Header.Get("Accept-Language")),
	})
	if err != nil {
		status, body := printErrorStatus(err)
		slog.Error("Print request failed", "session_id", sessionId, "error", err, "status_code", status)
		if werr := writeJSON(w, status, models.ErrorResponse{Error: body, Toasts: toasts.Toasts()}); werr != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, werr)
		}
		return
	}

	dialog := outcome.Dialog
	if dialog == nil {
		// the job finished but the dialog could not be updated or was closed
		dialog = &printing.Dialog{SessionID: sessionId}
		if stored, err := state.dialogStorage.Get(r.Context(), sessionId); err == nil {
			dialog = stored
		}
	}
	var card *badge.CardModel
	if model, err := badge.BuildCardModel(dialog.Record, state.printService.ExpiryDate()); err == nil {
		card = &model
	} else {
		slog.Warn("Print response without card", "session_id", sessionId, "error", err)
	}
	response := models.PrintResponse{
		JobID:       outcome.JobID,
		FileName:    outcome.Result.FileName,
		DocumentURL: fmt.Sprintf("/api/badge-dialogs/%s/document", sessionId),
		CompletedAt: outcome.Result.CompletedAt,
		Recorded:    outcome.RecordErr == nil,
		Dialog:      dialogResponse(dialog, card),
		Toasts:      toasts.Toasts(),
	}
	for _, embedErr := range outcome.Result.EmbedErrors {
		var ie *printdoc.ImageEmbedError
		if errors.As(embedErr, &ie) {
			response.BlankRegions = append(response.BlankRegions, string(ie.Region))
		}
	}
	if outcome.RecordErr != nil {
		response.RecordError = outcome.RecordErr.Error()
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func printErrorStatus(err error) (int, string) {
	var invalid *badge.InvalidRecordError
	switch {
	case errors.Is(err, printing.ErrDialogNotFound):
		return http.StatusNotFound, ERR_UNKNOWN_SESSION
	case errors.Is(err, printing.ErrPrintInProgress):
		return http.StatusConflict, ERR_PRINT_IN_PROGRESS
	case errors.Is(err, printing.ErrAlreadyPrinted):
		return http.StatusConflict, ERR_ALREADY_PRINTED
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, ERR_INVALID_RECORD
	}
	return http.StatusInternalServerError, ERR_PRINT_FAILED
}

func handleDocument(state *ServerState, w http.ResponseWriter, r *http.Request) {
	dialog, ok := loadDialog(state, w, r)
	if !ok {
		return
	}
	if dialog.LastFileName == "" {
		respondWithErr(w, http.StatusNotFound, ERR_NO_DOCUMENT, "no document printed for dialog", nil)
		return
	}
	path, err := state.documents.Open(dialog.LastFileName)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, ERR_NO_DOCUMENT, "saved document unavailable", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dialog.LastFileName))
	http.ServeFile(w, r, path)
}

// helpers ------------

func loadDialog(state *ServerState, w http.ResponseWriter, r *http.Request) (*printing.Dialog, bool) {
	dialog, err := state.dialogStorage.Get(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		respondWithStoreErr(w, err)
		return nil, false
	}
	return dialog, true
}

func writeDialog(state *ServerState, w http.ResponseWriter, dialog *printing.Dialog) {
	model, err := badge.BuildCardModel(dialog.Record, state.printService.ExpiryDate())
	if err != nil {
		respondWithErr(w, http.StatusUnprocessableEntity, ERR_INVALID_RECORD, "invalid card record", err)
		return
	}
	if err := writeJSON(w, http.StatusOK, dialogResponse(dialog, &model)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// dialogResponse leaves Card out when model is nil.
func dialogResponse(d *printing.Dialog, model *badge.CardModel) models.DialogResponse {
	resp := models.DialogResponse{
		SessionID:    d.SessionID,
		RecordID:     d.Record.ID,
		Side:         string(d.Side),
		State:        string(d.State),
		CanPrint:     d.CanPrint(),
		LastFileName: d.LastFileName,
		PrintedAt:    d.PrintedAt,
		PrintedByID:  d.PrintedByID,
	}
	if model != nil {
		resp.Card = &models.CardView{
			LastName:        model.LastName,
			FirstName:       model.FirstName,
			Role:            model.Role,
			Nationality:     model.Nationality,
			PrimaryActivity: model.PrimaryActivity,
			ExpiryLabel:     model.ExpiryLabel,
			ExpiryDate:      model.ExpiryDate,
			HasProfilePhoto: model.ProfilePhotoRef != nil,
			HasSignature:    model.SignaturePhotoRef != nil,
		}
	}
	return resp
}

func respondWithStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, printing.ErrDialogNotFound) {
		respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_SESSION, "unknown dialog session", err)
		return
	}
	respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "dialog storage failed", err)
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	hexId := fmt.Sprintf("%x", sessionId)
	slog.Debug("Session ID generated successfully", "session_id", hexId)
	return hexId
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}
