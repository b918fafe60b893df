package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "TaskPulse/internal/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码映射状态码；未公开的错误只返回概括性描述，完整原因写入日志。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatusOf(err)
	body := errorBody{Error: http.StatusText(status), Code: string(xerrors.CodeOf(err))}
	if e, ok := xerrors.From(err); ok {
		body.Error = e.PublicMessage()
	}

	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", body.Code),
		slog.Any("error", err),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", attrs...)
	} else {
		s.log.Debug("请求被拒绝", attrs...)
	}
	writeJSON(w, status, body)
}

// decodeJSON 解析请求体，格式错误视为参数错误。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
