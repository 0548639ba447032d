package broker

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BookHandler принимает снимок стакана и публикует его в Paper.
//
// PUT /api/v1/books/{class_code}/{sec_code}
//
//	{"bids": [[100.5, 3]], "asks": [[101, 2]]}
func BookHandler(p *Paper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		classCode := strings.TrimSpace(vars["class_code"])
		secCode := strings.TrimSpace(vars["sec_code"])
		if classCode == "" || secCode == "" {
			http.Error(w, "class_code and sec_code are required", http.StatusBadRequest)
			return
		}

		var book models.OrderBook
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&book); err != nil {
			http.Error(w, "invalid order book: "+err.Error(), http.StatusBadRequest)
			return
		}

		p.PublishBook(classCode, secCode, &book)
		w.WriteHeader(http.StatusNoContent)
	}
}
