package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/estalang/estavm/pkg/bytecode"
	"github.com/estalang/estavm/pkg/programstore"
	"github.com/estalang/estavm/pkg/runstore"
)

// newTestServer creates a server backed by temporary stores.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	programs, err := programstore.Open(programstore.DefaultConfig(filepath.Join(t.TempDir(), "programs.db")))
	if err != nil {
		t.Fatalf("Failed to open program store: %v", err)
	}
	t.Cleanup(func() { programs.Close() })

	runs, err := runstore.Open(runstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open run store: %v", err)
	}
	t.Cleanup(func() { runs.Close() })

	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	return New(config, programs, runs)
}

// sampleImage returns a base64 image of a program that pushes 2 and 3,
// adds them, and halts.
func sampleImage(t *testing.T) string {
	t.Helper()
	return encodeProgram(t, []bytecode.Instruction{
		bytecode.NewImm(bytecode.OpLoadConst, 2),
		bytecode.NewImm(bytecode.OpLoadConst, 3),
		bytecode.New(bytecode.OpAdd),
		bytecode.New(bytecode.OpHalt),
	})
}

// faultingImage returns a base64 image of a program that divides by zero.
func faultingImage(t *testing.T) string {
	t.Helper()
	return encodeProgram(t, []bytecode.Instruction{
		bytecode.NewImm(bytecode.OpLoadConst, 1),
		bytecode.NewImm(bytecode.OpLoadConst, 0),
		bytecode.New(bytecode.OpDiv),
		bytecode.New(bytecode.OpHalt),
	})
}

func encodeProgram(t *testing.T, prog []bytecode.Instruction) string {
	t.Helper()
	image, err := bytecode.Encode(prog)
	if err != nil {
		t.Fatalf("Failed to encode program: %v", err)
	}
	return base64.StdEncoding.EncodeToString(image)
}

// Helper function to make an RPC request.
func makeRPCRequest(t *testing.T, server *Server, method string, params interface{}) *Response {
	t.Helper()

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			t.Fatalf("Failed to marshal params: %v", err)
		}
	}

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      1,
		Method:  method,
		Params:  paramsRaw,
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	return &resp
}

func TestGetHealth(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "getHealth", nil)
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result, ok := resp.Result.(string)
	if !ok {
		t.Fatalf("Expected string result, got: %T", resp.Result)
	}

	if result != "ok" {
		t.Errorf("Expected 'ok', got: %s", result)
	}
}

func TestGetVersion(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "getVersion", nil)
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map result, got: %T", resp.Result)
	}

	if _, ok := result["estavm"]; !ok {
		t.Error("Expected 'estavm' in version response")
	}
}

func TestLoadProgram(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "loadProgram", []interface{}{sampleImage(t)})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map result, got: %T", resp.Result)
	}

	if result["programId"] == "" {
		t.Error("Expected a programId")
	}

	if n, _ := result["instructions"].(float64); n != 4 {
		t.Errorf("Expected 4 instructions, got: %v", result["instructions"])
	}
}

func TestLoadProgramMalformed(t *testing.T) {
	server := newTestServer(t)

	garbage := base64.StdEncoding.EncodeToString([]byte("not a program"))
	resp := makeRPCRequest(t, server, "loadProgram", []interface{}{garbage})
	if resp.Error == nil {
		t.Fatal("Expected an error for a malformed image")
	}

	if resp.Error.Code != MalformedProgram {
		t.Errorf("Expected code %d, got: %d", MalformedProgram, resp.Error.Code)
	}
}

func TestGetProgram(t *testing.T) {
	server := newTestServer(t)

	image := sampleImage(t)
	loadResp := makeRPCRequest(t, server, "loadProgram", []interface{}{image})
	if loadResp.Error != nil {
		t.Fatalf("Failed to load program: %v", loadResp.Error)
	}
	id := loadResp.Result.(map[string]interface{})["programId"].(string)

	resp := makeRPCRequest(t, server, "getProgram", []interface{}{id})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	if result["image"] != image {
		t.Errorf("Image round trip mismatch: %v", result["image"])
	}
	if result["encoding"] != string(EncodingBase64) {
		t.Errorf("Expected base64 encoding, got: %v", result["encoding"])
	}
}

func TestGetProgramNotFound(t *testing.T) {
	server := newTestServer(t)

	// A valid 32-byte base58 ID that is not stored.
	missing := "11111111111111111111111111111111"
	resp := makeRPCRequest(t, server, "getProgram", []interface{}{missing})
	if resp.Error == nil {
		t.Fatal("Expected an error for a missing program")
	}

	if resp.Error.Code != ProgramNotFound {
		t.Errorf("Expected code %d, got: %d", ProgramNotFound, resp.Error.Code)
	}
}

func TestListPrograms(t *testing.T) {
	server := newTestServer(t)

	makeRPCRequest(t, server, "loadProgram", []interface{}{sampleImage(t)})
	makeRPCRequest(t, server, "loadProgram", []interface{}{faultingImage(t)})

	resp := makeRPCRequest(t, server, "listPrograms", nil)
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	results, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("Expected array result, got: %T", resp.Result)
	}

	if len(results) != 2 {
		t.Errorf("Expected 2 programs, got: %d", len(results))
	}
}

func TestExecuteInline(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "execute", []interface{}{
		ExecuteConfig{Image: sampleImage(t)},
	})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	if result["status"] != "halted" {
		t.Errorf("Expected status 'halted', got: %v", result["status"])
	}

	stack := result["stack"].([]interface{})
	if len(stack) != 1 || stack[0].(float64) != 5 {
		t.Errorf("Expected final stack [5], got: %v", stack)
	}

	if seq, _ := result["seq"].(float64); seq != 1 {
		t.Errorf("Expected seq 1, got: %v", result["seq"])
	}
}

func TestExecuteByID(t *testing.T) {
	server := newTestServer(t)

	loadResp := makeRPCRequest(t, server, "loadProgram", []interface{}{sampleImage(t)})
	if loadResp.Error != nil {
		t.Fatalf("Failed to load program: %v", loadResp.Error)
	}
	id := loadResp.Result.(map[string]interface{})["programId"].(string)

	resp := makeRPCRequest(t, server, "execute", []interface{}{
		ExecuteConfig{ProgramID: id},
	})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	if result["programId"] != id {
		t.Errorf("Expected programId %s, got: %v", id, result["programId"])
	}
	if result["status"] != "halted" {
		t.Errorf("Expected status 'halted', got: %v", result["status"])
	}
}

func TestExecuteFaulted(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "execute", []interface{}{
		ExecuteConfig{Image: faultingImage(t)},
	})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	if result["status"] != "faulted" {
		t.Errorf("Expected status 'faulted', got: %v", result["status"])
	}
	if result["fault"] == "" {
		t.Error("Expected a fault message")
	}

	// Faulted runs are still recorded.
	seq := result["seq"].(float64)
	getResp := makeRPCRequest(t, server, "getRun", []interface{}{seq})
	if getResp.Error != nil {
		t.Fatalf("Expected recorded run, got: %v", getResp.Error)
	}
}

func TestExecuteStepBudget(t *testing.T) {
	server := newTestServer(t)

	// jump 0 loops forever; the request budget has to stop it.
	image := encodeProgram(t, []bytecode.Instruction{
		bytecode.NewImm(bytecode.OpJump, 0),
	})

	resp := makeRPCRequest(t, server, "execute", []interface{}{
		ExecuteConfig{Image: image, MaxSteps: 100},
	})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	if result["status"] != "faulted" {
		t.Errorf("Expected status 'faulted', got: %v", result["status"])
	}
	if steps, _ := result["steps"].(float64); steps != 100 {
		t.Errorf("Expected 100 steps, got: %v", result["steps"])
	}
}

func TestGetRunNotFound(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "getRun", []interface{}{999})
	if resp.Error == nil {
		t.Fatal("Expected an error for a missing run")
	}

	if resp.Error.Code != RunNotFound {
		t.Errorf("Expected code %d, got: %d", RunNotFound, resp.Error.Code)
	}
}

func TestListRuns(t *testing.T) {
	server := newTestServer(t)

	loadResp := makeRPCRequest(t, server, "loadProgram", []interface{}{sampleImage(t)})
	id := loadResp.Result.(map[string]interface{})["programId"].(string)

	for i := 0; i < 3; i++ {
		resp := makeRPCRequest(t, server, "execute", []interface{}{ExecuteConfig{ProgramID: id}})
		if resp.Error != nil {
			t.Fatalf("Failed to execute: %v", resp.Error)
		}
	}

	resp := makeRPCRequest(t, server, "listRuns", []interface{}{id})
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	results := resp.Result.([]interface{})
	if len(results) != 3 {
		t.Fatalf("Expected 3 runs, got: %d", len(results))
	}

	// Most recent first.
	first := results[0].(map[string]interface{})
	if seq, _ := first["seq"].(float64); seq != 3 {
		t.Errorf("Expected seq 3 first, got: %v", first["seq"])
	}
}

func TestGetStats(t *testing.T) {
	server := newTestServer(t)

	makeRPCRequest(t, server, "execute", []interface{}{ExecuteConfig{Image: sampleImage(t)}})

	resp := makeRPCRequest(t, server, "getStats", nil)
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	if n, _ := result["programs"].(float64); n != 1 {
		t.Errorf("Expected 1 program, got: %v", result["programs"])
	}
	if n, _ := result["runs"].(float64); n != 1 {
		t.Errorf("Expected 1 run, got: %v", result["runs"])
	}
}

func TestContentTypeWithCharset(t *testing.T) {
	server := newTestServer(t)

	body, _ := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"})
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("Expected no error, got: %v", resp.Error)
	}
	if resp.Result != "ok" {
		t.Errorf("Expected 'ok', got: %v", resp.Result)
	}

	httpReq = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("Expected InvalidRequest for text/plain, got: %v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	server := newTestServer(t)

	resp := makeRPCRequest(t, server, "noSuchMethod", nil)
	if resp.Error == nil {
		t.Fatal("Expected an error for unknown method")
	}

	if resp.Error.Code != MethodNotFound {
		t.Errorf("Expected code %d, got: %d", MethodNotFound, resp.Error.Code)
	}
}

func TestBatchRequest(t *testing.T) {
	server := newTestServer(t)

	requests := []Request{
		{JSONRPC: JSONRPCVersion, ID: 1, Method: "getHealth"},
		{JSONRPC: JSONRPCVersion, ID: 2, Method: "getVersion"},
	}

	body, _ := json.Marshal(requests)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.handleRPC(rr, httpReq)

	var responses []Response
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("Failed to unmarshal batch response: %v", err)
	}

	if len(responses) != 2 {
		t.Errorf("Expected 2 responses, got: %d", len(responses))
	}

	for _, resp := range responses {
		if resp.Error != nil {
			t.Errorf("Unexpected error in batch response: %v", resp.Error)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")

	rr := httptest.NewRecorder()
	handler := server.corsMiddleware(http.HandlerFunc(server.handleRPC))
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status %d for OPTIONS, got: %d", http.StatusNoContent, rr.Code)
	}

	if rr.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
		t.Error("Expected CORS Allow-Origin header")
	}
}

func TestServerLifecycle(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	<-ctx.Done()

	select {
	case err := <-errCh:
		if err != nil && err != context.DeadlineExceeded {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Server did not stop in time")
	}
}

func TestImageEncoding(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	for _, encoding := range []Encoding{EncodingBase58, EncodingBase64, EncodingBase64Zstd} {
		encoded, err := EncodeImage(data, encoding)
		if err != nil {
			t.Fatalf("Failed to encode %s: %v", encoding, err)
		}

		decoded, err := DecodeImage(encoded, encoding)
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", encoding, err)
		}

		if !bytes.Equal(decoded, data) {
			t.Errorf("Round trip mismatch for %s", encoding)
		}
	}
}
