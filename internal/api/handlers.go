package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/service"
	"tasknode/internal/tasks"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	taskService *service.TaskService
	feeService  *service.FeeService
	logger      *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	taskService *service.TaskService,
	feeService *service.FeeService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		taskService: taskService,
		feeService:  feeService,
		logger:      logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	if h.taskService != nil {
		response.Height = h.taskService.BlockNumber()
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Tasks ====================

var (
	errFunderNotCaller = errors.New("funder account must be the signing account")
	errShardFunder     = errors.New("shard funded tasks are created through the admin api")
)

// HandleCreateTask handles POST /api/v1/tasks. The signing account pays.
func (h *Handler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized", errMissingSignature)
		return
	}
	h.createTask(w, r, func(req FunderRequest) (tasks.Funder, error) {
		return callerFunder(caller, req)
	})
}

// HandleCreateShardTask handles POST /api/v1/admin/tasks. The task is paid
// from the stake of the members of the named shard.
func (h *Handler) HandleCreateShardTask(w http.ResponseWriter, r *http.Request) {
	h.createTask(w, r, func(req FunderRequest) (tasks.Funder, error) {
		if req.Kind != "shard" {
			return tasks.Funder{}, fmt.Errorf("unsupported funder kind %q", req.Kind)
		}
		return tasks.ShardFunder(models.ShardID(req.Shard)), nil
	})
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request, resolve func(FunderRequest) (tasks.Funder, error)) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if len(req.Function) == 0 {
		respondError(w, http.StatusBadRequest, "function is required", nil)
		return
	}
	fn, err := models.UnmarshalFunction(req.Function)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid function", err)
		return
	}
	if req.ShardSize == 0 {
		respondError(w, http.StatusBadRequest, "shard_size must be positive", nil)
		return
	}

	funds := math.ZeroInt()
	if req.Funds != "" {
		var ok bool
		funds, ok = math.NewIntFromString(req.Funds)
		if !ok || funds.IsNegative() {
			respondError(w, http.StatusBadRequest, "Invalid funds: must be a non-negative integer", nil)
			return
		}
	}

	funder, err := resolve(req.Funder)
	if errors.Is(err, errFunderNotCaller) || errors.Is(err, errShardFunder) {
		respondError(w, http.StatusForbidden, "Invalid funder", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid funder", err)
		return
	}

	id, err := h.taskService.CreateTask(service.CreateTaskParams{
		Network:   models.Network(req.Network),
		Function:  fn,
		ShardSize: req.ShardSize,
		Start:     req.Start,
		Funds:     funds,
		Funder:    funder,
	})
	if err != nil {
		respondServiceError(w, "Failed to create task", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateTaskResponse{TaskID: uint64(id)})
}

// HandleGetTask handles GET /api/v1/tasks/{id}
func (h *Handler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	status, err := h.taskService.GetTask(id)
	if err != nil {
		respondServiceError(w, "Failed to get task", err)
		return
	}

	function, err := models.MarshalFunction(status.Task.Function)
	if err != nil {
		h.logger.Error("Failed to encode task function", zap.Uint64("task_id", uint64(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to encode task", err)
		return
	}

	respondJSON(w, http.StatusOK, TaskResponse{
		TaskID:    uint64(status.Task.ID),
		Network:   uint16(status.Task.Network),
		Owner:     status.Task.Owner,
		Function:  function,
		ShardSize: status.Task.ShardSize,
		Start:     status.Task.Start,
		Phase:     status.Phase,
		Shard:     status.Shard,
		Signer:    status.Signer,
		WriteHash: status.Hash,
		Result:    status.Result,
		Escrow:    status.Escrow.String(),
	})
}

// HandleGetTaskPhase handles GET /api/v1/tasks/{id}/phase
func (h *Handler) HandleGetTaskPhase(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	phase, err := h.taskService.GetTaskPhase(id)
	if err != nil {
		respondServiceError(w, "Failed to get task phase", err)
		return
	}

	respondJSON(w, http.StatusOK, PhaseResponse{TaskID: uint64(id), Phase: phase})
}

// HandleGetTaskResult handles GET /api/v1/tasks/{id}/result
func (h *Handler) HandleGetTaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	out, err := h.taskService.GetTaskResult(r.Context(), id)
	if err != nil {
		respondServiceError(w, "Failed to get task result", err)
		return
	}

	response := ResultResponse{TaskID: uint64(id)}
	if out != nil {
		response.Finished = true
		response.Result = &out.Result
		response.Output = out.Output
	}
	respondJSON(w, http.StatusOK, response)
}

// HandleGetTaskEvents handles GET /api/v1/tasks/{id}/events
func (h *Handler) HandleGetTaskEvents(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	events, err := h.taskService.GetTaskEvents(r.Context(), id)
	if err != nil {
		if tasks.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Task not found", err)
			return
		}
		h.logger.Error("Failed to get task events", zap.Uint64("task_id", uint64(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get task events", err)
		return
	}
	if events == nil {
		events = []models.TaskEventRecord{}
	}

	respondJSON(w, http.StatusOK, TaskEventsResponse{TaskID: uint64(id), Events: events})
}

// ==================== Submissions ====================

// HandleSubmitSignature handles POST /api/v1/tasks/{id}/signature
func (h *Handler) HandleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	var req SubmitSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.taskService.SubmitSignature(id, req.Signature); err != nil {
		respondServiceError(w, "Failed to submit signature", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "accepted"})
}

// HandleSubmitHash handles POST /api/v1/tasks/{id}/hash
func (h *Handler) HandleSubmitHash(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	caller, ok := CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized", errMissingSignature)
		return
	}

	var req SubmitHashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result := models.WriteResult{Hash: req.Hash, Error: req.Error}
	if err := h.taskService.SubmitHash(caller, id, result); err != nil {
		respondServiceError(w, "Failed to submit hash", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "accepted"})
}

// HandleSubmitResult handles POST /api/v1/tasks/{id}/result
func (h *Handler) HandleSubmitResult(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	var req SubmitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result := models.TaskResult{
		ShardID:   models.ShardID(req.ShardID),
		Payload:   req.Payload,
		Signature: req.Signature,
	}
	if err := h.taskService.SubmitResult(id, result); err != nil {
		respondServiceError(w, "Failed to submit result", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "accepted"})
}

// ==================== Shards and Networks ====================

// HandleGetShardTasks handles GET /api/v1/shards/{id}/tasks
func (h *Handler) HandleGetShardTasks(w http.ResponseWriter, r *http.Request) {
	shard, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid shard id", err)
		return
	}

	assigned := h.taskService.ShardTasks(models.ShardID(shard))
	if assigned == nil {
		assigned = []models.TaskExecution{}
	}

	respondJSON(w, http.StatusOK, ShardTasksResponse{ShardID: shard, Tasks: assigned})
}

// HandleGetGateway handles GET /api/v1/networks/{network}/gateway
func (h *Handler) HandleGetGateway(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid network", err)
		return
	}

	address, ok := h.taskService.Gateway(network)
	if !ok {
		respondError(w, http.StatusNotFound, "Gateway not registered", nil)
		return
	}

	respondJSON(w, http.StatusOK, GatewayResponse{Network: uint16(network), Address: address})
}

// HandleGetQueue handles GET /api/v1/networks/{network}/queue
func (h *Handler) HandleGetQueue(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid network", err)
		return
	}

	q := h.taskService.Queue(network)
	if q.Unassigned == nil {
		q.Unassigned = []models.TaskID{}
	}

	respondJSON(w, http.StatusOK, QueueResponse{
		Network:        uint16(network),
		Unassigned:     q.Unassigned,
		RecvHorizon:    q.RecvHorizon,
		ShardTaskLimit: q.ShardTaskLimit,
		Rewards:        q.Rewards,
		Batch:          q.Batch,
	})
}

// ==================== Fee Calculation ====================

// HandleCalculateFee handles POST /api/v1/fees/calculate
// Quotes the escrow a task needs under the current network parameters
func (h *Handler) HandleCalculateFee(w http.ResponseWriter, r *http.Request) {
	var req CalculateFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if len(req.Function) == 0 {
		respondError(w, http.StatusBadRequest, "function is required", nil)
		return
	}
	fn, err := models.UnmarshalFunction(req.Function)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid function", err)
		return
	}
	if req.ShardSize == 0 {
		respondError(w, http.StatusBadRequest, "shard_size must be positive", nil)
		return
	}

	feeCalc, err := h.feeService.CalculateTaskFee(models.Network(req.Network), fn, req.ShardSize)
	if err != nil {
		h.logger.Error("Failed to calculate fee",
			zap.Uint16("network", req.Network),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to calculate fee", err)
		return
	}

	respondJSON(w, http.StatusOK, CalculateFeeResponse{
		InitialPhase:      feeCalc.InitialPhase,
		RequiredFunds:     feeCalc.RequiredFunds.String(),
		ReadReward:        feeCalc.Rewards.ReadReward.String(),
		WriteReward:       feeCalc.Rewards.WriteReward.String(),
		SendMessageReward: feeCalc.Rewards.SendMessageReward.String(),
	})
}

// ==================== Admin ====================

// HandleRegisterGateway handles POST /api/v1/admin/gateways
func (h *Handler) HandleRegisterGateway(w http.ResponseWriter, r *http.Request) {
	var req RegisterGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.taskService.RegisterGateway(models.ShardID(req.Bootstrap), req.Address, req.Height)
	if err != nil {
		respondServiceError(w, "Failed to register gateway", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "registered"})
}

// HandleUnregisterGateways handles POST /api/v1/admin/gateways/unregister
func (h *Handler) HandleUnregisterGateways(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLimit(w, r)
	if !ok {
		return
	}

	if err := h.taskService.UnregisterGateways(req.Limit); err != nil {
		respondServiceError(w, "Failed to unregister gateways", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "unregistered"})
}

// HandleCancelTask handles POST /api/v1/admin/tasks/{id}/cancel
func (h *Handler) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	if err := h.taskService.CancelTask(id); err != nil {
		respondServiceError(w, "Failed to cancel task", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
}

// HandleCancelTasks handles POST /api/v1/admin/tasks/cancel
func (h *Handler) HandleCancelTasks(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLimit(w, r)
	if !ok {
		return
	}

	if err := h.taskService.CancelTasks(req.Limit); err != nil {
		respondServiceError(w, "Failed to cancel tasks", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
}

// HandleResetTasks handles POST /api/v1/admin/tasks/reset
func (h *Handler) HandleResetTasks(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLimit(w, r)
	if !ok {
		return
	}

	if err := h.taskService.ResetTasks(req.Limit); err != nil {
		respondServiceError(w, "Failed to reset tasks", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}

// HandleUpdateNetworkParams handles PUT /api/v1/admin/networks/{network}/params
func (h *Handler) HandleUpdateNetworkParams(w http.ResponseWriter, r *http.Request) {
	network, err := networkVar(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid network", err)
		return
	}

	var req NetworkParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	update, err := req.toUpdate(h.currentBatch(network))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid parameters", err)
		return
	}

	if err := h.taskService.UpdateNetworkParams(network, update); err != nil {
		respondServiceError(w, "Failed to update network parameters", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: "updated"})
}

func (h *Handler) currentBatch(network models.Network) models.BatchConfig {
	return h.taskService.Queue(network).Batch
}

// toUpdate converts the request into a service update. A lone batch size
// or offset keeps the other half of the current batch config.
func (req NetworkParamsRequest) toUpdate(current models.BatchConfig) (service.NetworkParamsUpdate, error) {
	update := service.NetworkParamsUpdate{ShardTaskLimit: req.ShardTaskLimit}

	amounts := []struct {
		name string
		in   *string
		out  **math.Int
	}{
		{"read_reward", req.ReadReward, &update.ReadReward},
		{"write_reward", req.WriteReward, &update.WriteReward},
		{"send_message_reward", req.SendMessageReward, &update.SendMessageReward},
	}
	for _, a := range amounts {
		if a.in == nil {
			continue
		}
		v, ok := math.NewIntFromString(*a.in)
		if !ok {
			return update, fmt.Errorf("%s must be an integer", a.name)
		}
		*a.out = &v
	}

	if req.BatchSize != nil || req.BatchOffset != nil {
		batch := current
		if req.BatchSize != nil {
			batch.Size = *req.BatchSize
		}
		if req.BatchOffset != nil {
			batch.Offset = *req.BatchOffset
		}
		update.Batch = &batch
	}

	return update, nil
}

// ==================== Helper Functions ====================

func taskIDVar(r *http.Request) (models.TaskID, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, err
	}
	return models.TaskID(id), nil
}

func networkVar(r *http.Request) (models.Network, error) {
	network, err := strconv.ParseUint(mux.Vars(r)["network"], 10, 16)
	if err != nil {
		return 0, err
	}
	return models.Network(network), nil
}

// callerFunder resolves the funder of a signed request. Only the signing
// account can pay, an empty funder defaults to it.
func callerFunder(caller models.AccountID, req FunderRequest) (tasks.Funder, error) {
	switch req.Kind {
	case "", "account":
		if req.Account != "" {
			acct, err := models.ParseAccountID(req.Account)
			if err != nil {
				return tasks.Funder{}, err
			}
			if acct != caller {
				return tasks.Funder{}, errFunderNotCaller
			}
		}
		return tasks.AccountFunder(caller), nil
	case "shard":
		return tasks.Funder{}, errShardFunder
	default:
		return tasks.Funder{}, fmt.Errorf("unknown funder kind %q", req.Kind)
	}
}

func decodeLimit(w http.ResponseWriter, r *http.Request) (LimitRequest, bool) {
	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, false
	}
	if req.Limit == 0 {
		respondError(w, http.StatusBadRequest, "limit must be positive", nil)
		return req, false
	}
	return req, true
}

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case tasks.IsNotFound(err):
		return http.StatusNotFound
	case tasks.IsAuthorization(err):
		return http.StatusForbidden
	case tasks.IsCryptographic(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}

func respondServiceError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
