// Package control is the three-verb protocol between the controller and its
// minions: hello, pull and report, carried as JSON over HTTP.
package control

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

const (
	PathHello  = "/v1/hello"
	PathPull   = "/v1/pull"
	PathReport = "/v1/report"
	PathHealth = "/v1/health"
)

var ErrRejected = errors.New("request rejected")

type HelloRequest struct {
	Name string `json:"name" binding:"required"`
}

type PullRequest struct {
	Name string `json:"name" binding:"required"`
}

type ReportRequest struct {
	Name     string                `json:"name" binding:"required"`
	Action   model.Action          `json:"action" binding:"required"`
	Mutation model.MutationID      `json:"mutation"`
	Status   model.ExecutionStatus `json:"status"`
}

// Problem is the body of every non-2xx answer.
type Problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func problem(code int, err error) Problem {
	return Problem{Title: http.StatusText(code), Status: code, Detail: err.Error()}
}

// StatusError is a non-2xx answer as seen by the client.
type StatusError struct {
	Code    int
	Problem Problem
}

func (e *StatusError) Error() string {
	if e.Problem.Detail != "" {
		return fmt.Sprintf("control: %d %s: %s", e.Code, http.StatusText(e.Code), e.Problem.Detail)
	}
	return fmt.Sprintf("control: %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case model.ErrProtocol:
		return e.Code == http.StatusConflict
	case ErrRejected:
		return e.Code >= 400 && e.Code < 500
	}
	return false
}
