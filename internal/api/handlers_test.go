package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tasknode/internal/config"
	"tasknode/internal/models"
	"tasknode/internal/service"
	"tasknode/internal/shards"
	"tasknode/internal/tasks"
)

const testAdminToken = "secret"

var (
	funderKey  = mustKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	memberKeys = []*ecdsa.PrivateKey{
		mustKey("8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"),
		mustKey("289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"),
	}
)

func mustKey(hexKey string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return key
}

func accountOf(key *ecdsa.PrivateKey) models.AccountID {
	return models.AccountFromPublicKey(&key.PublicKey)
}

// setupTestAPI serves a node with one online two member shard on network 1.
// The funder account holds a balance and every member is bonded.
func setupTestAPI(t *testing.T, adminToken string) *mux.Router {
	t.Helper()
	logger := zap.NewNop()

	registry := shards.NewRegistry(logger)
	engine := tasks.NewEngine(registry, tasks.DefaultParams(), nil, logger)
	registry.SetListener(engine)
	members := []models.AccountID{accountOf(memberKeys[0]), accountOf(memberKeys[1])}
	if err := registry.Add(shards.Shard{ID: 1, Network: 1, Members: members}); err != nil {
		t.Fatalf("failed to add shard: %v", err)
	}
	if err := registry.SetOnline(1); err != nil {
		t.Fatalf("failed to set shard online: %v", err)
	}

	if err := engine.Fund(accountOf(funderKey), math.NewInt(100_000)); err != nil {
		t.Fatalf("failed to fund account: %v", err)
	}
	for _, m := range members {
		if err := engine.Bond(m, math.NewInt(10_000)); err != nil {
			t.Fatalf("failed to bond member: %v", err)
		}
	}

	cfg := &config.Config{
		Networks: map[models.Network]config.NetworkConfig{1: {ID: 1, Name: "dev"}},
	}
	handler := NewHandler(
		service.NewTaskService(engine, nil, logger),
		service.NewFeeService(cfg, engine, logger),
		logger,
	)
	return SetupRouter(handler, adminToken, logger)
}

func encodeBody(body interface{}) []byte {
	switch b := body.(type) {
	case nil:
		return nil
	case string:
		return []byte(b)
	default:
		data, _ := json.Marshal(b)
		return data
	}
}

func newRequest(method, path string, body []byte, header map[string]string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return req
}

func doRequest(router http.Handler, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, newRequest(method, path, encodeBody(body), header))
	return w
}

// doSigned sends a request signed by key
func doSigned(t *testing.T, router http.Handler, key *ecdsa.PrivateKey, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data := encodeBody(body)
	req := newRequest(method, path, data, nil)
	if err := SignRequest(req, data, key, time.Now()); err != nil {
		t.Fatalf("failed to sign request: %v", err)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func viewCallRequest(funder models.AccountID, shardSize uint16) CreateTaskRequest {
	return CreateTaskRequest{
		Network:   1,
		Function:  json.RawMessage(`{"kind":"evm_view_call","params":{"address":"0x0000000000000000000000000000000000000001","input":"0x"}}`),
		ShardSize: shardSize,
		Funder:    FunderRequest{Kind: "account", Account: funder.String()},
	}
}

func TestHandleHealth(t *testing.T) {
	logger := zap.NewNop()
	handler := NewHandler(nil, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
}

func TestHandleCalculateFee(t *testing.T) {
	router := setupTestAPI(t, "")

	tests := []struct {
		name           string
		request        interface{}
		expectedStatus int
		expectedFunds  string
		expectedPhase  models.Phase
	}{
		{
			name: "view call",
			request: CalculateFeeRequest{
				Network:   1,
				Function:  json.RawMessage(`{"kind":"evm_view_call","params":{}}`),
				ShardSize: 3,
			},
			expectedStatus: http.StatusOK,
			expectedFunds:  fmt.Sprint(3 * tasks.DefaultReadReward),
			expectedPhase:  models.PhaseRead,
		},
		{
			name: "payable call",
			request: CalculateFeeRequest{
				Network:   1,
				Function:  json.RawMessage(`{"kind":"evm_call","params":{"amount":"10"}}`),
				ShardSize: 2,
			},
			expectedStatus: http.StatusOK,
			expectedFunds:  fmt.Sprint(2*tasks.DefaultReadReward + tasks.DefaultWriteReward),
			expectedPhase:  models.PhaseWrite,
		},
		{
			name:           "missing function",
			request:        CalculateFeeRequest{Network: 1, ShardSize: 3},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown function kind",
			request: CalculateFeeRequest{
				Network:   1,
				Function:  json.RawMessage(`{"kind":"teleport"}`),
				ShardSize: 3,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "zero shard size",
			request: CalculateFeeRequest{
				Network:  1,
				Function: json.RawMessage(`{"kind":"evm_view_call"}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown network",
			request: CalculateFeeRequest{
				Network:   9,
				Function:  json.RawMessage(`{"kind":"evm_view_call"}`),
				ShardSize: 3,
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "invalid json",
			request:        "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/fees/calculate", tt.request, nil)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}

			if tt.expectedStatus != http.StatusOK {
				var errResp ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
					t.Fatalf("failed to decode error response: %v", err)
				}
				if errResp.Error == "" {
					t.Error("expected error message in response")
				}
				return
			}

			var response CalculateFeeResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.RequiredFunds != tt.expectedFunds {
				t.Errorf("expected funds %s, got %s", tt.expectedFunds, response.RequiredFunds)
			}
			if response.InitialPhase != tt.expectedPhase {
				t.Errorf("expected phase %s, got %s", tt.expectedPhase, response.InitialPhase)
			}
		})
	}
}

func TestTaskLifecycleRoutes(t *testing.T) {
	router := setupTestAPI(t, "")

	w := doSigned(t, router, funderKey, http.MethodPost, "/api/v1/tasks", viewCallRequest(accountOf(funderKey), 2))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var created CreateTaskResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	taskPath := fmt.Sprintf("/api/v1/tasks/%d", created.TaskID)

	w = doRequest(router, http.MethodGet, taskPath, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var task TaskResponse
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if task.Phase != models.PhaseRead {
		t.Errorf("expected phase read, got %s", task.Phase)
	}
	if task.Shard == nil || *task.Shard != 1 {
		t.Errorf("expected task assigned to shard 1, got %v", task.Shard)
	}
	if task.Escrow != fmt.Sprint(2*tasks.DefaultReadReward) {
		t.Errorf("unexpected escrow %s", task.Escrow)
	}

	w = doRequest(router, http.MethodGet, taskPath+"/result", nil, nil)
	var result ResultResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Finished {
		t.Error("expected unfinished task")
	}

	w = doRequest(router, http.MethodGet, "/api/v1/shards/1/tasks", nil, nil)
	var assigned ShardTasksResponse
	if err := json.NewDecoder(w.Body).Decode(&assigned); err != nil {
		t.Fatalf("failed to decode shard tasks: %v", err)
	}
	if len(assigned.Tasks) != 1 || uint64(assigned.Tasks[0].TaskID) != created.TaskID {
		t.Errorf("unexpected shard tasks %+v", assigned.Tasks)
	}

	// a result from a shard that does not own the task
	submit := SubmitResultRequest{ShardID: 7, Payload: models.ErrorPayload("boom"), Signature: []byte{1}}
	w = doRequest(router, http.MethodPost, taskPath+"/result", submit, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	// a hash for a task that is not in the write phase
	w = doSigned(t, router, memberKeys[0], http.MethodPost, taskPath+"/hash", SubmitHashRequest{})
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	router := setupTestAPI(t, "")
	funder := accountOf(funderKey)

	noFunction := viewCallRequest(funder, 2)
	noFunction.Function = nil

	badFunder := viewCallRequest(funder, 2)
	badFunder.Funder = FunderRequest{Kind: "treasury"}

	badFunds := viewCallRequest(funder, 2)
	badFunds.Funds = "-5"

	defaultFunder := viewCallRequest(funder, 2)
	defaultFunder.Funder = FunderRequest{}

	shardFunder := viewCallRequest(funder, 2)
	shardFunder.Funder = FunderRequest{Kind: "shard", Shard: 1}

	tests := []struct {
		name           string
		request        CreateTaskRequest
		expectedStatus int
	}{
		{"missing function", noFunction, http.StatusBadRequest},
		{"zero shard size", viewCallRequest(funder, 0), http.StatusBadRequest},
		{"unknown funder", badFunder, http.StatusBadRequest},
		{"negative funds", badFunds, http.StatusBadRequest},
		{"no matching shard", viewCallRequest(funder, 5), http.StatusConflict},
		{"another account pays", viewCallRequest(accountOf(memberKeys[0]), 2), http.StatusForbidden},
		{"shard pays", shardFunder, http.StatusForbidden},
		{"caller pays by default", defaultFunder, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doSigned(t, router, funderKey, http.MethodPost, "/api/v1/tasks", tt.request)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestUnknownTask(t *testing.T) {
	router := setupTestAPI(t, "")

	for _, path := range []string{"/api/v1/tasks/99", "/api/v1/tasks/99/phase", "/api/v1/tasks/99/result"} {
		w := doRequest(router, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, w.Code)
		}
	}

	w := doRequest(router, http.MethodGet, "/api/v1/networks/1/gateway", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	router := setupTestAPI(t, testAdminToken)
	authorized := map[string]string{AdminTokenHeader: testAdminToken}

	w := doSigned(t, router, funderKey, http.MethodPost, "/api/v1/tasks", viewCallRequest(accountOf(funderKey), 2))
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to create task: %s", w.Body.String())
	}

	shardTask := viewCallRequest(accountOf(funderKey), 2)
	shardTask.Funder = FunderRequest{Kind: "shard", Shard: 1}

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		header         map[string]string
		expectedStatus int
	}{
		{"missing token", http.MethodPost, "/api/v1/admin/tasks/0/cancel", nil, nil, http.StatusUnauthorized},
		{"wrong token", http.MethodPost, "/api/v1/admin/tasks/0/cancel", nil, map[string]string{AdminTokenHeader: "nope"}, http.StatusUnauthorized},
		{"cancel task", http.MethodPost, "/api/v1/admin/tasks/0/cancel", nil, authorized, http.StatusOK},
		{"cancel unknown task", http.MethodPost, "/api/v1/admin/tasks/42/cancel", nil, authorized, http.StatusNotFound},
		{"reset without limit", http.MethodPost, "/api/v1/admin/tasks/reset", LimitRequest{}, authorized, http.StatusBadRequest},
		{"reset", http.MethodPost, "/api/v1/admin/tasks/reset", LimitRequest{Limit: 5}, authorized, http.StatusOK},
		{"register gateway", http.MethodPost, "/api/v1/admin/gateways",
			map[string]interface{}{"bootstrap": 1, "address": "0x0000000000000000000000000000000000009a7e", "height": 10},
			authorized, http.StatusOK},
		{"register gateway unknown shard", http.MethodPost, "/api/v1/admin/gateways",
			map[string]interface{}{"bootstrap": 9, "address": "0x0000000000000000000000000000000000009a7e", "height": 10},
			authorized, http.StatusNotFound},
		{"update params", http.MethodPut, "/api/v1/admin/networks/1/params",
			map[string]interface{}{"shard_task_limit": 4, "read_reward": "5", "batch_size": 16}, authorized, http.StatusOK},
		{"invalid reward", http.MethodPut, "/api/v1/admin/networks/1/params",
			map[string]interface{}{"read_reward": "lots"}, authorized, http.StatusBadRequest},
		{"zero batch size", http.MethodPut, "/api/v1/admin/networks/1/params",
			map[string]interface{}{"batch_size": 0}, authorized, http.StatusConflict},
		{"shard funded task", http.MethodPost, "/api/v1/admin/tasks",
			shardTask, authorized, http.StatusCreated},
		{"shard funded task without token", http.MethodPost, "/api/v1/admin/tasks",
			shardTask, nil, http.StatusUnauthorized},
		{"admin task paid by an account", http.MethodPost, "/api/v1/admin/tasks",
			viewCallRequest(accountOf(funderKey), 2), authorized, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.method, tt.path, tt.body, tt.header)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}

	w = doRequest(router, http.MethodGet, "/api/v1/networks/1/queue", nil, nil)
	var queue QueueResponse
	if err := json.NewDecoder(w.Body).Decode(&queue); err != nil {
		t.Fatalf("failed to decode queue: %v", err)
	}
	if queue.ShardTaskLimit != 4 {
		t.Errorf("expected shard task limit 4, got %d", queue.ShardTaskLimit)
	}
	if queue.Batch.Size != 16 {
		t.Errorf("expected batch size 16, got %d", queue.Batch.Size)
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	router := setupTestAPI(t, "")

	w := doRequest(router, http.MethodPost, "/api/v1/admin/tasks/cancel", LimitRequest{Limit: 1},
		map[string]string{AdminTokenHeader: ""})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	router := setupTestAPI(t, "")

	w := doRequest(router, http.MethodGet, "/health", nil, nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	w = doRequest(router, http.MethodGet, "/health", nil, map[string]string{"X-Request-ID": "abc"})
	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("expected request id 'abc', got '%s'", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{tasks.ErrUnknownTask, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", tasks.ErrUnknownShard), http.StatusNotFound},
		{tasks.ErrInvalidSigner, http.StatusForbidden},
		{tasks.ErrInvalidOwner, http.StatusForbidden},
		{tasks.ErrInvalidSignature, http.StatusUnprocessableEntity},
		{tasks.ErrSignatureVerificationFailed, http.StatusUnprocessableEntity},
		{tasks.ErrNotReadPhase, http.StatusConflict},
		{errors.New("anything else"), http.StatusConflict},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.expected {
			t.Errorf("statusFor(%v) = %d, expected %d", tt.err, got, tt.expected)
		}
	}
}

func TestNetworkParamsToUpdate(t *testing.T) {
	size := uint64(64)
	reward := "12"
	req := NetworkParamsRequest{BatchSize: &size, WriteReward: &reward}

	update, err := req.toUpdate(models.BatchConfig{Size: 32, Offset: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Batch == nil || *update.Batch != (models.BatchConfig{Size: 64, Offset: 3}) {
		t.Errorf("unexpected batch %+v", update.Batch)
	}
	if update.WriteReward == nil || !update.WriteReward.Equal(math.NewInt(12)) {
		t.Errorf("unexpected write reward %v", update.WriteReward)
	}
	if update.ReadReward != nil || update.ShardTaskLimit != nil {
		t.Error("expected untouched fields to stay nil")
	}
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "Bad request", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if errResp.Error != "Bad request" {
		t.Errorf("expected error 'Bad request', got '%s'", errResp.Error)
	}
}
