package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"scribe-backend/pkg/common"
	pkgerrors "scribe-backend/pkg/errors"
)

// respondAppError maps an application error onto the wire. Unknown errors
// never leak internals to the client.
func respondAppError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		common.RespondError(w, status, string(appErr.Type), appErr.Message)
		return
	}

	logger.Error("Unhandled error", zap.Error(err))
	common.RespondError(w, http.StatusInternalServerError, "INTERNAL", "An internal error occurred")
}

// requestUserID pulls the authenticated user out of the context, responding
// 401 itself when the middleware did not run
func requestUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := common.GetUserID(r.Context())
	if !ok || userID == "" {
		common.RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return "", false
	}
	return userID, true
}

const maxRequestBody = 1 << 20 // 1 MiB
