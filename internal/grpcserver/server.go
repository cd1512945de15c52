// Package grpcserver implements the RecordingService on top of the storage worker.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mtiwari1/exgstream/internal/repository"
	"github.com/mtiwari1/exgstream/internal/storage"
	"github.com/mtiwari1/exgstream/internal/worker"
	pb "github.com/mtiwari1/exgstream/proto"
)

// Requester runs one storage request and waits for its response.
// *worker.Pool satisfies it.
type Requester interface {
	Do(ctx context.Context, req worker.Request) (worker.Response, error)
}

// Server implements pb.RecordingServiceServer.
// Dependencies are injected via the constructor; there is no global state.
type Server struct {
	storage Requester
	logger  *slog.Logger
}

// NewServer creates the gRPC service over the storage worker.
func NewServer(storage Requester, logger *slog.Logger) *Server {
	return &Server{storage: storage, logger: logger}
}

// SetSelectedChannels sets the channel columns used by later exports.
func (s *Server) SetSelectedChannels(ctx context.Context, req *pb.SetSelectedChannelsRequest) (*pb.SetSelectedChannelsResponse, error) {
	channels := make([]int, 0, len(req.Channels))
	for _, ch := range req.Channels {
		if ch < 1 {
			return nil, status.Errorf(codes.InvalidArgument, "SetSelectedChannels: channel %d out of range", ch)
		}
		channels = append(channels, int(ch))
	}

	if _, err := s.do(ctx, "SetSelectedChannels", worker.Request{Action: worker.ActionSetSelectedChannels, Channels: channels}); err != nil {
		return nil, err
	}
	return &pb.SetSelectedChannelsResponse{Channels: req.Channels}, nil
}

// ListFiles returns every stored recording name.
func (s *Server) ListFiles(ctx context.Context, _ *pb.ListFilesRequest) (*pb.ListFilesResponse, error) {
	resp, err := s.do(ctx, "ListFiles", worker.Request{Action: worker.ActionListFiles})
	if err != nil {
		return nil, err
	}
	files := resp.Files
	if files == nil {
		files = []string{}
	}
	return &pb.ListFilesResponse{Files: files}, nil
}

// ExportOne returns one recording as CSV.
func (s *Server) ExportOne(ctx context.Context, req *pb.ExportOneRequest) (*pb.ExportOneResponse, error) {
	if req.Filename == "" {
		return nil, status.Error(codes.InvalidArgument, "ExportOne: filename is required")
	}
	resp, err := s.do(ctx, "ExportOne", worker.Request{Action: worker.ActionExportOne, Filename: req.Filename})
	if err != nil {
		return nil, err
	}
	return &pb.ExportOneResponse{Filename: req.Filename, Csv: resp.Data, Rows: int64(resp.Rows)}, nil
}

// ExportAll returns every recording as a zip archive.
func (s *Server) ExportAll(ctx context.Context, _ *pb.ExportAllRequest) (*pb.ExportAllResponse, error) {
	resp, err := s.do(ctx, "ExportAll", worker.Request{Action: worker.ActionExportAll})
	if err != nil {
		return nil, err
	}
	return &pb.ExportAllResponse{Zip: resp.Data, Entries: int64(resp.Rows)}, nil
}

// DeleteOne removes one recording.
func (s *Server) DeleteOne(ctx context.Context, req *pb.DeleteOneRequest) (*pb.DeleteOneResponse, error) {
	if req.Filename == "" {
		return nil, status.Error(codes.InvalidArgument, "DeleteOne: filename is required")
	}
	if _, err := s.do(ctx, "DeleteOne", worker.Request{Action: worker.ActionDeleteOne, Filename: req.Filename}); err != nil {
		return nil, err
	}
	return &pb.DeleteOneResponse{Filename: req.Filename}, nil
}

// DeleteAll removes every recording.
func (s *Server) DeleteAll(ctx context.Context, _ *pb.DeleteAllRequest) (*pb.DeleteAllResponse, error) {
	if _, err := s.do(ctx, "DeleteAll", worker.Request{Action: worker.ActionDeleteAll}); err != nil {
		return nil, err
	}
	return &pb.DeleteAllResponse{}, nil
}

func (s *Server) do(ctx context.Context, method string, req worker.Request) (worker.Response, error) {
	start := time.Now()
	resp, err := s.storage.Do(ctx, req)
	attrs := []any{
		slog.String("method", method),
		slog.String("request_id", resp.ID),
		slog.Duration("latency", time.Since(start)),
	}
	if req.Filename != "" {
		attrs = append(attrs, slog.String("filename", req.Filename))
	}
	if err != nil {
		s.logger.Warn("grpc request failed", append(attrs, slog.String("error", err.Error()))...)
		return resp, mapError(err, method)
	}
	s.logger.Info("grpc request", attrs...)
	return resp, nil
}

// mapError converts storage errors to gRPC status codes.
func mapError(err error, method string) error {
	switch {
	case errors.Is(err, storage.ErrFileNotFound), errors.Is(err, repository.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: recording not found", method)
	case errors.Is(err, storage.ErrNoData):
		return status.Errorf(codes.NotFound, "%s: no recordings", method)
	case errors.Is(err, worker.ErrInvalidRequest):
		return status.Errorf(codes.InvalidArgument, "%s: %v", method, err)
	case errors.Is(err, worker.ErrPoolClosed):
		return status.Errorf(codes.Unavailable, "%s: storage is shutting down", method)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: storage timeout", method)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: cancelled", method)
	}
	return status.Errorf(codes.Internal, "%s: %v", method, err)
}
