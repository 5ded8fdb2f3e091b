package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-realtime-cart/internal/cart"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	switch {
	case cart.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error()})
	case cart.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Detail: err.Error()})
	case cart.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Detail: err.Error()})
	default:
		log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal server error."})
	}
}
