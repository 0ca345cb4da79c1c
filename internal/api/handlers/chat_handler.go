package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alumitra/advisory/internal/services"
	"github.com/alumitra/advisory/internal/utils"
	"github.com/alumitra/advisory/internal/workers"
)

type ChatHandler struct {
	intakes  services.IntakeService
	sessions services.SessionService
	chat     *services.ChatService
	runner   *workers.TaskRunner
}

func NewChatHandler(intakes services.IntakeService, sessions services.SessionService, chat *services.ChatService, runner *workers.TaskRunner) *ChatHandler {
	return &ChatHandler{intakes: intakes, sessions: sessions, chat: chat, runner: runner}
}

type AskQuestionRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

type AskQuestionResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`

	RemainingDailyQuestions int `json:"remaining_daily_questions"`
}

// Ask runs the synchronous accept path (auth, session, quota) and enqueues
// the classify/answer work. The caller polls the task for the outcome.
func (h *ChatHandler) Ask(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Ask", "invalid request body", err))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		// First question without a session: open one against the active
		// intake profile.
		intake, err := h.intakes.Active(c.Request.Context(), userID)
		if err != nil {
			if utils.IsCode(err, utils.CodeNotFound) {
				writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Ask", "no active intake profile, complete intake first", err))
				return
			}
			writeError(c, err)
			return
		}
		sess, err := h.sessions.Start(c.Request.Context(), userID, intake)
		if err != nil {
			writeError(c, err)
			return
		}
		sessionID = sess.ID
	}

	_, remaining, err := h.chat.AcceptQuestion(c.Request.Context(), userID, sessionID, req.Question)
	if err != nil {
		if utils.IsCode(err, utils.CodeResourceExhausted) {
			h.writeLimitReached(c, sessionID, err)
			return
		}
		writeError(c, err)
		return
	}

	question := req.Question
	taskID, err := h.runner.Submit(c.Request.Context(), func(ctx context.Context) (any, error) {
		return h.chat.ProcessQuestion(ctx, userID, sessionID, question)
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, AskQuestionResponse{
		TaskID:                  taskID,
		SessionID:               sessionID,
		RemainingDailyQuestions: remaining,
	})
}

type AnswerOptionRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	MessageID     string `json:"message_id" binding:"required"`
	SelectedValue string `json:"selected_value" binding:"required"`
}

type AnswerOptionResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
}

// AnswerOption validates a clarifying-question selection synchronously and
// enqueues the answer generation.
func (h *ChatHandler) AnswerOption(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req AnswerOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.AnswerOption", "invalid request body", err))
		return
	}

	if err := h.chat.AcceptOption(c.Request.Context(), userID, req.SessionID, req.MessageID, req.SelectedValue); err != nil {
		writeError(c, err)
		return
	}

	taskID, err := h.runner.Submit(c.Request.Context(), func(ctx context.Context) (any, error) {
		return h.chat.ResolveOption(ctx, userID, req.SessionID, req.MessageID, req.SelectedValue)
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, AnswerOptionResponse{
		TaskID:    taskID,
		SessionID: req.SessionID,
	})
}

type TaskStatusResponse struct {
	TaskID  string `json:"task_id"`
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *ChatHandler) TaskStatus(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	st, err := h.runner.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, TaskStatusResponse{
		TaskID:  st.ID,
		State:   string(st.State),
		Attempt: st.Attempt,
		Result:  st.Result,
		Error:   st.Error,
	})
}

func (h *ChatHandler) History(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	session, msgs, err := h.chat.History(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": msgs,
	})
}

func (h *ChatHandler) writeLimitReached(c *gin.Context, sessionID string, err error) {
	var ae *utils.AppError
	msg := "limit reached"
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":                      utils.CodeResourceExhausted,
		"message":                   msg,
		"session_id":                sessionID,
		"limit_reached":             true,
		"remaining_daily_questions": 0,
	})
}
