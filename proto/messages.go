package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec is the content-subtype the RecordingService speaks.
const Codec = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals the plain Go messages below. Clients select it with
// grpc.CallContentSubtype(Codec); the generated-style client does so itself.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return Codec }

type SetSelectedChannelsRequest struct {
	Channels []int32 `json:"channels"`
}

type SetSelectedChannelsResponse struct {
	Channels []int32 `json:"channels"`
}

type ListFilesRequest struct{}

type ListFilesResponse struct {
	Files []string `json:"files"`
}

type ExportOneRequest struct {
	Filename string `json:"filename"`
}

type ExportOneResponse struct {
	Filename string `json:"filename"`
	Csv      []byte `json:"csv"`
	Rows     int64  `json:"rows"`
}

type ExportAllRequest struct{}

type ExportAllResponse struct {
	Zip     []byte `json:"zip"`
	Entries int64  `json:"entries"`
}

type DeleteOneRequest struct {
	Filename string `json:"filename"`
}

type DeleteOneResponse struct {
	Filename string `json:"filename"`
}

type DeleteAllRequest struct{}

type DeleteAllResponse struct{}
