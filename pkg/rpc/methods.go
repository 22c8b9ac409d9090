package rpc

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/estalang/estavm/internal/types"
	"github.com/estalang/estavm/pkg/bytecode"
	"github.com/estalang/estavm/pkg/programstore"
	"github.com/estalang/estavm/pkg/runstore"
	"github.com/estalang/estavm/pkg/vm"
)

// Version information.
const (
	Version = "estavm-1.0.0"
)

// Program Methods

// loadProgram stores a program image and returns its content-derived ID.
func (s *Server) loadProgram(params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [image, config?]
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}

	if len(args) < 1 {
		return nil, InvalidParamsError("missing image parameter")
	}

	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid image")
	}

	// Parse optional config
	var config LoadProgramConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	// Set defaults
	if config.Encoding == "" {
		config.Encoding = EncodingBase64
	}

	image, err := DecodeImage(encoded, config.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid image encoding: %v", err)
	}

	prog, err := bytecode.Decode(image)
	if err != nil {
		return nil, MalformedProgramError(err)
	}

	id, err := s.programs.Put(prog)
	if err != nil {
		return nil, InternalServerErrorf("failed to store program: %v", err)
	}

	meta, err := s.programs.GetMeta(id)
	if err != nil {
		return nil, InternalServerErrorf("failed to load program metadata: %v", err)
	}

	return ProgramResult{
		ProgramID:    id.String(),
		Instructions: meta.Instructions,
		StoredAt:     meta.StoredAt,
	}, nil
}

// getProgram retrieves a stored program and its metadata.
func (s *Server) getProgram(params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [programId, config?]
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}

	if len(args) < 1 {
		return nil, InvalidParamsError("missing programId parameter")
	}

	var idStr string
	if err := json.Unmarshal(args[0], &idStr); err != nil {
		return nil, InvalidParamsError("invalid programId")
	}

	id, err := types.ProgramIDFromBase58(idStr)
	if err != nil {
		return nil, InvalidParamsError("invalid programId format")
	}

	// Parse optional config
	var config GetProgramConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	// Set defaults
	if config.Encoding == "" {
		config.Encoding = EncodingBase64
	}

	meta, err := s.programs.GetMeta(id)
	if err != nil {
		if errors.Is(err, programstore.ErrProgramNotFound) {
			return nil, ProgramNotFoundError(idStr)
		}
		return nil, InternalServerErrorf("failed to load program metadata: %v", err)
	}

	prog, err := s.programs.Get(id)
	if err != nil {
		return nil, InternalServerErrorf("failed to load program: %v", err)
	}

	image, err := bytecode.Encode(prog)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode program: %v", err)
	}

	encoded, err := EncodeImage(image, config.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode image: %v", err)
	}

	return ProgramResult{
		ProgramID:    id.String(),
		Instructions: meta.Instructions,
		StoredAt:     meta.StoredAt,
		Image:        encoded,
		Encoding:     string(config.Encoding),
	}, nil
}

// listPrograms returns metadata for every stored program.
func (s *Server) listPrograms(params json.RawMessage) (interface{}, *RPCError) {
	metas, err := s.programs.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list programs: %v", err)
	}

	results := make([]ProgramResult, len(metas))
	for i, meta := range metas {
		results[i] = ProgramResult{
			ProgramID:    meta.ID.String(),
			Instructions: meta.Instructions,
			StoredAt:     meta.StoredAt,
		}
	}
	return results, nil
}

// Execution Methods

// execute runs a program and records the outcome. The program is
// either looked up by ID or supplied inline; inline programs are
// stored first so the run record can reference them.
func (s *Server) execute(params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [config]
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}

	if len(args) < 1 {
		return nil, InvalidParamsError("missing config parameter")
	}

	var config ExecuteConfig
	if err := json.Unmarshal(args[0], &config); err != nil {
		return nil, InvalidParamsError("invalid config")
	}

	if config.Encoding == "" {
		config.Encoding = EncodingBase64
	}

	var (
		id   types.ProgramID
		prog []bytecode.Instruction
	)

	switch {
	case config.ProgramID != "" && config.Image != "":
		return nil, InvalidParamsError("programId and image are mutually exclusive")

	case config.ProgramID != "":
		var err error
		id, err = types.ProgramIDFromBase58(config.ProgramID)
		if err != nil {
			return nil, InvalidParamsError("invalid programId format")
		}
		prog, err = s.programs.Get(id)
		if err != nil {
			if errors.Is(err, programstore.ErrProgramNotFound) {
				return nil, ProgramNotFoundError(config.ProgramID)
			}
			return nil, InternalServerErrorf("failed to load program: %v", err)
		}

	case config.Image != "":
		image, err := DecodeImage(config.Image, config.Encoding)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid image encoding: %v", err)
		}
		prog, err = bytecode.Decode(image)
		if err != nil {
			return nil, MalformedProgramError(err)
		}
		id, err = s.programs.Put(prog)
		if err != nil {
			return nil, InternalServerErrorf("failed to store program: %v", err)
		}

	default:
		return nil, InvalidParamsError("programId or image is required")
	}

	// Requests may lower the step budget but never exceed it.
	budget := s.config.MaxSteps
	if config.MaxSteps > 0 && (budget == 0 || config.MaxSteps < budget) {
		budget = config.MaxSteps
	}

	start := time.Now()
	m := vm.New(prog, vm.Options{MaxSteps: budget})
	runErr := m.Run()
	elapsed := time.Since(start)

	rec := &runstore.Record{
		Program:   id,
		Status:    runstore.StatusHalted,
		Steps:     m.Steps(),
		Stack:     m.Stack(),
		MemoryLen: len(m.Memory()),
		StartedAt: start,
		Duration:  elapsed,
	}
	if runErr != nil {
		rec.Status = runstore.StatusFaulted
		rec.Fault = runErr.Error()
	}

	if _, err := s.runs.Append(rec); err != nil {
		return nil, InternalServerErrorf("failed to record run: %v", err)
	}

	return runView(rec), nil
}

// getRun retrieves a recorded run by sequence number.
func (s *Server) getRun(params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [seq]
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}

	if len(args) < 1 {
		return nil, InvalidParamsError("missing seq parameter")
	}

	var seq uint64
	if err := json.Unmarshal(args[0], &seq); err != nil {
		return nil, InvalidParamsError("invalid seq")
	}

	rec, err := s.runs.Get(seq)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			return nil, RunNotFoundError(seq)
		}
		return nil, InternalServerErrorf("failed to load run: %v", err)
	}

	return runView(rec), nil
}

// listRuns returns runs of a program, most recent first.
func (s *Server) listRuns(params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [programId, config?]
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}

	if len(args) < 1 {
		return nil, InvalidParamsError("missing programId parameter")
	}

	var idStr string
	if err := json.Unmarshal(args[0], &idStr); err != nil {
		return nil, InvalidParamsError("invalid programId")
	}

	id, err := types.ProgramIDFromBase58(idStr)
	if err != nil {
		return nil, InvalidParamsError("invalid programId format")
	}

	// Parse optional config
	var config ListRunsConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	limit := config.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	recs, err := s.runs.ListByProgram(id, limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to list runs: %v", err)
	}

	results := make([]RunResult, len(recs))
	for i, rec := range recs {
		results[i] = runView(rec)
	}
	return results, nil
}

// Info Methods

// getHealth returns "ok" when the server is healthy.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, InternalServerError("node is unhealthy")
	}
	return "ok", nil
}

// getVersion returns the server version.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionResult{Version: Version}, nil
}

// getStats returns store counters.
func (s *Server) getStats(params json.RawMessage) (interface{}, *RPCError) {
	return StatsResult{
		Programs: s.programs.Count(),
		Runs:     s.runs.Count(),
	}, nil
}

// runView converts a run record to its response shape.
func runView(rec *runstore.Record) RunResult {
	return RunResult{
		Seq:        rec.Seq,
		ProgramID:  rec.Program.String(),
		Status:     string(rec.Status),
		Fault:      rec.Fault,
		Steps:      rec.Steps,
		Stack:      rec.Stack,
		MemoryLen:  rec.MemoryLen,
		StartedAt:  rec.StartedAt.Unix(),
		DurationUs: rec.Duration.Microseconds(),
	}
}
