package wire

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// SpawnRequest asks the daemon to run a command inside the container,
// optionally overriding the identity and rlimits the process starts with.
//
// A request is a bind-mount request, not a spawn, whenever BindSource is
// non-empty; Kind is carried alongside as an explicit tag, but IsBindMount
// decides by BindSource alone.
type SpawnRequest struct {
	Kind Kind `json:"kind"`

	TTY  bool     `json:"tty"`
	Argv []string `json:"argv"`
	Env  []string `json:"env"`
	Dir  string   `json:"dir"`
	User string   `json:"user"`

	UserOverride *specs.User         `json:"userOverride,omitempty"`
	Rlimits      []specs.POSIXRlimit `json:"rlimits,omitempty"`

	BindSource      string `json:"bindSource,omitempty"`
	BindDestination string `json:"bindDestination,omitempty"`
	BindName        string `json:"bindName,omitempty"`
}

// IsBindMount reports whether this request describes a bind-mount
// injection rather than a spawn. Field presence is authoritative: Kind is
// carried for forward compatibility only, and never overrides a
// disagreement with BindSource.
func (r *SpawnRequest) IsBindMount() bool {
	return r.BindSource != ""
}

// SpawnResponse answers a SpawnRequest.
type SpawnResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BindMountResponse has the same fields as SpawnResponse. The daemon
// answers bind-mount requests with an encoded SpawnResponse, which has the
// same JSON shape.
type BindMountResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EncodeRequest marshals a SpawnRequest to its wire body.
func EncodeRequest(r *SpawnRequest) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request: %w", err)
	}
	return b, nil
}

// DecodeRequest unmarshals a wire body into a SpawnRequest.
func DecodeRequest(body []byte) (*SpawnRequest, error) {
	var r SpawnRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return &r, nil
}

// EncodeResponse marshals a SpawnResponse to its wire body.
func EncodeResponse(r *SpawnResponse) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode response: %w", err)
	}
	return b, nil
}

// DecodeResponse unmarshals a wire body into a SpawnResponse.
func DecodeResponse(body []byte) (*SpawnResponse, error) {
	var r SpawnResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}
	return &r, nil
}
