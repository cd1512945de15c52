// Package restapi implements the HTTP control and export API.
package restapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mtiwari1/exgstream/internal/acquisition"
	"github.com/mtiwari1/exgstream/internal/device"
	"github.com/mtiwari1/exgstream/internal/filter"
	"github.com/mtiwari1/exgstream/internal/hasher"
	"github.com/mtiwari1/exgstream/internal/recording"
	"github.com/mtiwari1/exgstream/internal/repository"
	"github.com/mtiwari1/exgstream/internal/storage"
	"github.com/mtiwari1/exgstream/internal/worker"
	pb "github.com/mtiwari1/exgstream/proto"
)

const (
	maxBodyBytes = 1 << 20
	stopTimeout  = 10 * time.Second
)

// Device is the acquisition controller surface used by the API.
type Device interface {
	Connect(ctx context.Context) (device.Configuration, error)
	Disconnect(ctx context.Context) error
	Status() acquisition.Status
	SetFilter(channel int, st filter.Settings) error
	Filter(channel int) filter.Settings
}

// Recorder is the recording buffer surface used by the API.
type Recorder interface {
	Start(opts recording.Options) (string, error)
	Stop(ctx context.Context) (recording.Summary, error)
	Status() recording.Status
	Stats() recording.Stats
	SetSelectedChannels(channels []int)
}

// Storage runs requests the gRPC service does not expose.
type Storage interface {
	Do(ctx context.Context, req worker.Request) (worker.Response, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for REST endpoints.
type Handler struct {
	grpc     pb.RecordingServiceServer
	storage  Storage
	device   Device
	recorder Recorder
	db       Pinger
	live     http.Handler
	ports    func() ([]string, error)
	tempDir  string
	prefix   string
	logger   *slog.Logger
}

// Options carries the optional parts of a Handler.
type Options struct {
	Live    http.Handler             // GET /live; omitted when nil
	Ports   func() ([]string, error) // GET /ports; omitted when nil
	TempDir string                   // scratch space for exports; os.TempDir() when empty
	Prefix  string                   // recording prefix when a start request names none
}

// NewHandler creates a new REST handler.
func NewHandler(
	grpcSrv pb.RecordingServiceServer,
	storage Storage,
	dev Device,
	rec Recorder,
	db Pinger,
	opts Options,
	logger *slog.Logger,
) *Handler {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Handler{
		grpc:     grpcSrv,
		storage:  storage,
		device:   dev,
		recorder: rec,
		db:       db,
		live:     opts.Live,
		ports:    opts.Ports,
		tempDir:  opts.TempDir,
		prefix:   opts.Prefix,
		logger:   logger,
	}
}

// RegisterRoutes attaches all REST routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /device/connect", h.connect)
	mux.HandleFunc("POST /device/disconnect", h.disconnect)
	mux.HandleFunc("GET /status", h.status)

	mux.HandleFunc("POST /recording/start", h.startRecording)
	mux.HandleFunc("POST /recording/stop", h.stopRecording)

	mux.HandleFunc("GET /channels/{channel}/filters", h.getFilter)
	mux.HandleFunc("PUT /channels/{channel}/filters", h.putFilter)
	mux.HandleFunc("PUT /channels/selected", h.putSelected)

	mux.HandleFunc("GET /recordings", h.listRecordings)
	mux.HandleFunc("GET /recordings.zip", h.exportAll)
	mux.HandleFunc("GET /recordings/{filename}", h.exportCSV)
	mux.HandleFunc("GET /recordings/{filename}/edf", h.exportEDF)
	mux.HandleFunc("DELETE /recordings/{filename}", h.deleteRecording)
	mux.HandleFunc("DELETE /recordings", h.deleteAll)

	mux.HandleFunc("GET /healthz", h.healthz)
	if h.ports != nil {
		mux.HandleFunc("GET /ports", h.listPorts)
	}
	if h.live != nil {
		mux.Handle("GET /live", h.live)
	}
}

// requestLogger tags every log line of one request with a fresh request_id.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", uuid.New().String()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}

// ---------- device ----------

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	cfg, err := h.device.Connect(r.Context())
	if err != nil {
		logger.Error("connect device", slog.String("error", err.Error()))
		code := http.StatusBadGateway
		if errors.Is(err, acquisition.ErrAlreadyConnected) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	logger.Info("device connected", slog.String("device", cfg.Name), slog.Int("channels", cfg.ChannelCount))
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := h.device.Disconnect(ctx); err != nil {
		logger.Error("disconnect device", slog.String("error", err.Error()))
		code := http.StatusInternalServerError
		if errors.Is(err, acquisition.ErrNotConnected) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	logger.Info("device disconnected")
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Device    acquisition.Status `json:"device"`
	Recording recording.Status   `json:"recording"`
	Recorder  recording.Stats    `json:"recorder"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Device:    h.device.Status(),
		Recording: h.recorder.Status(),
		Recorder:  h.recorder.Stats(),
	})
}

// ---------- recording ----------

type startRequest struct {
	Prefix          string  `json:"prefix"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (h *Handler) startRecording(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var req startRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.DurationSeconds < 0 {
		http.Error(w, "duration_seconds must not be negative", http.StatusBadRequest)
		return
	}
	if req.Prefix == "" {
		req.Prefix = h.prefix
	}
	if h.device.Status().State != acquisition.Connected {
		http.Error(w, "device not connected", http.StatusConflict)
		return
	}

	name, err := h.recorder.Start(recording.Options{
		Prefix:   req.Prefix,
		Duration: time.Duration(req.DurationSeconds * float64(time.Second)),
	})
	if err != nil {
		logger.Error("start recording", slog.String("error", err.Error()))
		code := http.StatusInternalServerError
		if errors.Is(err, recording.ErrAlreadyRecording) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	logger.Info("recording started", slog.String("filename", name))
	w.Header().Set("Location", "/recordings/"+name)
	writeJSON(w, http.StatusCreated, map[string]string{"filename": name})
}

func (h *Handler) stopRecording(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	sum, err := h.recorder.Stop(ctx)
	if err != nil {
		logger.Error("stop recording", slog.String("error", err.Error()))
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, recording.ErrNotRecording):
			code = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), code)
		return
	}
	logger.Info("recording stopped", slog.String("filename", sum.Filename), slog.Int("rows", sum.Rows))
	writeJSON(w, http.StatusOK, sum)
}

// ---------- channels ----------

func channelParam(r *http.Request) (int, error) {
	ch, err := strconv.Atoi(r.PathValue("channel"))
	if err != nil || ch < 1 {
		return 0, fmt.Errorf("invalid channel %q", r.PathValue("channel"))
	}
	return ch, nil
}

func (h *Handler) getFilter(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.device.Filter(ch))
}

func (h *Handler) putFilter(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	ch, err := channelParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st := h.device.Filter(ch)
	if err := decodeJSON(w, r, &st); err != nil {
		http.Error(w, "invalid filter settings: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := filter.ParseNotch(int(st.Notch)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.device.SetFilter(ch, st); err != nil {
		logger.Warn("set filter", slog.Int("channel", ch), slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type selectedRequest struct {
	Channels []int `json:"channels"`
}

func (h *Handler) putSelected(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var req selectedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	channels := make([]int32, 0, len(req.Channels))
	for _, ch := range req.Channels {
		if ch < 1 {
			http.Error(w, fmt.Sprintf("invalid channel %d", ch), http.StatusBadRequest)
			return
		}
		channels = append(channels, int32(ch))
	}

	if _, err := h.grpc.SetSelectedChannels(r.Context(), &pb.SetSelectedChannelsRequest{Channels: channels}); err != nil {
		logger.Error("grpc SetSelectedChannels", slog.String("error", err.Error()))
		http.Error(w, "failed to select channels", grpcToHTTPStatus(err))
		return
	}
	h.recorder.SetSelectedChannels(req.Channels)
	logger.Info("channels selected", slog.Any("channels", req.Channels))
	writeJSON(w, http.StatusOK, req)
}

// ---------- recordings ----------

func (h *Handler) listRecordings(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	resp, err := h.grpc.ListFiles(r.Context(), &pb.ListFilesRequest{})
	if err != nil {
		logger.Error("grpc ListFiles", slog.String("error", err.Error()))
		http.Error(w, "failed to list recordings", grpcToHTTPStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	name := r.PathValue("filename")

	resp, err := h.grpc.ExportOne(r.Context(), &pb.ExportOneRequest{Filename: name})
	if err != nil {
		logger.Error("grpc ExportOne", slog.String("filename", name), slog.String("error", err.Error()))
		http.Error(w, "failed to export recording", grpcToHTTPStatus(err))
		return
	}
	h.serveExport(w, r, logger, name, "text/csv; charset=utf-8", writeBytes(resp.Csv))
}

func (h *Handler) exportAll(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	resp, err := h.grpc.ExportAll(r.Context(), &pb.ExportAllRequest{})
	if err != nil {
		logger.Error("grpc ExportAll", slog.String("error", err.Error()))
		http.Error(w, "failed to export recordings", grpcToHTTPStatus(err))
		return
	}
	h.serveExport(w, r, logger, "recordings.zip", "application/zip", writeBytes(resp.Zip))
}

func (h *Handler) exportEDF(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	name := r.PathValue("filename")

	rate := device.DefaultSamplingRate
	if st := h.device.Status(); st.Device != nil {
		rate = st.Device.SamplingRate
	}
	if q := r.URL.Query().Get("rate"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			http.Error(w, "invalid rate", http.StatusBadRequest)
			return
		}
		rate = v
	}

	h.serveExport(w, r, logger, name+".edf", "application/octet-stream", func(f *os.File) error {
		_, err := h.storage.Do(r.Context(), worker.Request{
			Action:       worker.ActionExportEDF,
			Filename:     name,
			SamplingRate: rate,
			Output:       f,
		})
		return err
	})
}

func (h *Handler) deleteRecording(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	name := r.PathValue("filename")

	if _, err := h.grpc.DeleteOne(r.Context(), &pb.DeleteOneRequest{Filename: name}); err != nil {
		logger.Error("grpc DeleteOne", slog.String("filename", name), slog.String("error", err.Error()))
		http.Error(w, "failed to delete recording", grpcToHTTPStatus(err))
		return
	}
	logger.Info("recording deleted", slog.String("filename", name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteAll(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	if _, err := h.grpc.DeleteAll(r.Context(), &pb.DeleteAllRequest{}); err != nil {
		logger.Error("grpc DeleteAll", slog.String("error", err.Error()))
		http.Error(w, "failed to delete recordings", grpcToHTTPStatus(err))
		return
	}
	logger.Info("all recordings deleted")
	w.WriteHeader(http.StatusNoContent)
}

func writeBytes(b []byte) func(*os.File) error {
	return func(f *os.File) error {
		bw := bufio.NewWriter(f)
		if _, err := bw.Write(b); err != nil {
			return err
		}
		return bw.Flush()
	}
}

// serveExport stages the payload in a temp file, hashes it for the ETag and
// serves it with range and conditional request support.
func (h *Handler) serveExport(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name, contentType string, write func(*os.File) error) {
	tmp, err := os.CreateTemp(h.tempDir, "export-*"+filepath.Ext(name))
	if err != nil {
		logger.Error("create temp file", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := write(tmp); err != nil {
		logger.Error("write export", slog.String("filename", name), slog.String("error", err.Error()))
		http.Error(w, "failed to export recording", storageToHTTPStatus(err))
		return
	}

	meta, err := hasher.ComputeMetadata(tmp.Name())
	if err != nil {
		logger.Error("hash export", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("ETag", meta.ETag())
	if n, ok := meta.Extra["records"].(int); ok {
		w.Header().Set("X-Record-Count", strconv.Itoa(n))
	}
	if n, ok := meta.Extra["entries"].(int); ok {
		w.Header().Set("X-Archive-Entries", strconv.Itoa(n))
	}

	logger.Info("export served",
		slog.String("filename", name),
		slog.Int64("size", meta.Size),
		slog.String("sha256", meta.Hash),
	)
	http.ServeContent(w, r, name, time.Time{}, tmp)
}

// ---------- health ----------

func (h *Handler) listPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := h.ports()
	if err != nil {
		h.requestLogger(r).Error("list ports", slog.String("error", err.Error()))
		http.Error(w, "failed to list ports", http.StatusInternalServerError)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ports": ports})
}

// healthz verifies connectivity to the database and local scratch space.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{"status": "ok"}
	httpStatus := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		result["status"] = "degraded"
		result["database"] = "unreachable: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	} else {
		result["database"] = "connected"
	}

	if _, err := os.Stat(h.tempDir); err != nil {
		result["status"] = "degraded"
		result["disk"] = "temp dir inaccessible: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	} else {
		result["disk"] = "ok"
	}

	result["device"] = string(h.device.Status().State)
	writeJSON(w, httpStatus, result)
}

// ---------- helpers ----------

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// storageToHTTPStatus maps errors returned by the storage worker.
func storageToHTTPStatus(err error) int {
	var st interface{ GRPCStatus() *status.Status }
	if errors.As(err, &st) {
		return grpcToHTTPStatus(err)
	}
	switch {
	case errors.Is(err, worker.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, storage.ErrFileNotFound), errors.Is(err, storage.ErrNoData), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// grpcToHTTPStatus maps gRPC status codes to HTTP status codes.
func grpcToHTTPStatus(err error) int {
	st, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch st.Code() {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
