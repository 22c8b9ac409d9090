// Package rpc implements the JSON-RPC 2.0 server for estavm.
//
// The server exposes program management and execution:
//   - Program: loadProgram, getProgram, listPrograms
//   - Execution: execute, getRun, listRuns
//   - Info: getHealth, getVersion, getStats
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding types for program images.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// LoadProgramConfig configures loadProgram requests.
type LoadProgramConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// GetProgramConfig configures getProgram requests.
type GetProgramConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// ExecuteConfig configures execute requests.
type ExecuteConfig struct {
	// ProgramID names a stored program to execute.
	ProgramID string `json:"programId,omitempty"`

	// Image is an inline program image; mutually exclusive with
	// ProgramID. Inline programs are stored before execution so the
	// run record can reference them.
	Image string `json:"image,omitempty"`

	// Encoding is the Image encoding; defaults to base64.
	Encoding Encoding `json:"encoding,omitempty"`

	// MaxSteps overrides the server's step budget for this run. It
	// cannot exceed the configured budget, only lower it.
	MaxSteps uint64 `json:"maxSteps,omitempty"`
}

// ListRunsConfig configures listRuns requests.
type ListRunsConfig struct {
	Limit int `json:"limit,omitempty"`
}

// ProgramResult is the response shape for program methods.
type ProgramResult struct {
	ProgramID    string `json:"programId"`
	Instructions uint64 `json:"instructions"`
	StoredAt     int64  `json:"storedAt,omitempty"`
	Image        string `json:"image,omitempty"`
	Encoding     string `json:"encoding,omitempty"`
}

// RunResult is the response shape for execution methods.
type RunResult struct {
	Seq       uint64  `json:"seq"`
	ProgramID string  `json:"programId"`
	Status    string  `json:"status"`
	Fault     string  `json:"fault,omitempty"`
	Steps     uint64  `json:"steps"`
	Stack     []int64 `json:"stack"`
	MemoryLen int     `json:"memoryLen"`
	StartedAt int64   `json:"startedAt"`
	DurationUs int64  `json:"durationUs"`
}

// StatsResult is the response shape for getStats.
type StatsResult struct {
	Programs uint64 `json:"programs"`
	Runs     uint64 `json:"runs"`
}

// VersionResult is the response shape for getVersion.
type VersionResult struct {
	Version string `json:"estavm"`
}
