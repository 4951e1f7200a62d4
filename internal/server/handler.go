/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/report"
	"github.com/kentakayama/evo-auth/internal/verify"
)

const (
	maxRequestBodyBytes = 64 << 10
)

// Service runs verifications on behalf of HTTP callers.
type Service interface {
	Run(ctx context.Context, username, sessionToken string) *verify.Result
	VerifyUser(ctx context.Context, username, userIP string) *verify.Result
	Nodes() []model.NodeEndpoint
}

type handler struct {
	service Service
	signer  *report.Signer
	logger  *log.Logger
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
}

type sessionRequest struct {
	Username     string `json:"username"`
	SessionToken string `json:"sessionToken"`
}

func newHandler(service Service, signer *report.Signer, logger *log.Logger) *handler {
	return &handler{
		service: service,
		signer:  signer,
		logger:  logger,
	}
}

func (h *handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Post("/verify/session", h.verifySession)
	r.Get("/verify/user", h.verifyUser)
	r.Get("/nodes", h.listNodes)
	r.Get("/report-key", h.reportKey)
	r.Get("/healthz", h.healthz)
	return r
}

func (h *handler) verifySession(w http.ResponseWriter, r *http.Request) {
	req, err := parseSessionRequest(r)
	if err != nil {
		h.logger.Printf("failed reading session request: %v", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.SessionToken == "" {
		http.Error(w, "username and sessionToken are required", http.StatusBadRequest)
		return
	}

	res := h.service.Run(r.Context(), req.Username, req.SessionToken)
	h.logger.Printf("Session verification of %s finished: %s", req.Username, res.Tally)
	h.writeReport(w, r, res)
}

func parseSessionRequest(r *http.Request) (sessionRequest, error) {
	var req sessionRequest
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return req, err
		}
		err = json.Unmarshal(body, &req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Username = r.PostForm.Get("username")
	req.SessionToken = r.PostForm.Get("sessionToken")
	return req, nil
}

func (h *handler) verifyUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username, userIP := q.Get("username"), q.Get("userip")
	if username == "" || userIP == "" {
		http.Error(w, "username and userip are required", http.StatusBadRequest)
		return
	}
	if net.ParseIP(userIP) == nil {
		http.Error(w, "userip is not an IP address", http.StatusBadRequest)
		return
	}

	res := h.service.VerifyUser(r.Context(), username, userIP)
	h.logger.Printf("Verification lookup of %s@%s finished: %s", username, userIP, res.Tally)
	h.writeReport(w, r, res)
}

func (h *handler) listNodes(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(h.service.Nodes())
	if err != nil {
		h.logger.Printf("failed encoding node list: %v", err)
		h.writeResponse(w, responseSpec{status: http.StatusInternalServerError})
		return
	}
	h.writeResponse(w, responseSpec{status: http.StatusOK, body: body, contentType: "application/json"})
}

func (h *handler) reportKey(w http.ResponseWriter, r *http.Request) {
	body, err := report.EncodePublicKey(h.signer.PublicKey())
	if err != nil {
		h.logger.Printf("failed encoding report key: %v", err)
		h.writeResponse(w, responseSpec{status: http.StatusInternalServerError})
		return
	}
	h.writeResponse(w, responseSpec{status: http.StatusOK, body: body, contentType: "application/x-pem-file"})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeResponse(w, responseSpec{status: http.StatusOK, body: []byte("OK"), contentType: "text/plain"})
}

// writeReport answers with the representation the Accept header asks for:
// a signed COSE_Sign1 report, the bare CBOR report, or JSON.
func (h *handler) writeReport(w http.ResponseWriter, r *http.Request, res *verify.Result) {
	rep := report.FromResult(res)

	var (
		resp responseSpec
		err  error
	)
	switch negotiate(r.Header.Get("Accept")) {
	case "application/cose":
		resp.body, err = h.signer.Sign(rep)
		resp.contentType = report.MediaTypeCOSE
	case report.MediaTypeCBOR:
		resp.body, err = rep.Encode()
		resp.contentType = report.MediaTypeCBOR
	default:
		resp.body, err = json.Marshal(rep)
		resp.contentType = "application/json"
	}
	if err != nil {
		h.logger.Printf("failed encoding report %s: %v", rep.RunID, err)
		h.writeResponse(w, responseSpec{status: http.StatusInternalServerError})
		return
	}
	resp.status = http.StatusOK
	h.writeResponse(w, resp)
}

// negotiate picks the first supported media type listed in accept.
func negotiate(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/cose", report.MediaTypeCBOR, "application/json":
			return mediaType
		}
	}
	return "application/json"
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	w.Header().Set("Server", "evo-auth")

	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Printf("failed writing response body: %v", err)
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}
