package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pqa/internal/adapters/http/api"
	"github.com/okian/pqa/internal/adapters/repository/memstore"
	service "github.com/okian/pqa/internal/app"
	"github.com/okian/pqa/internal/domain/model"
)

const base = "/api/v1/orgs/org-1"

func newServer(opts ...api.Option) (http.Handler, *service.Service) {
	ctx := context.Background()
	store := memstore.New()
	So(store.PutCompany(ctx, model.Company{ID: "acme", OrganizationID: "org-1", Name: "Acme", Domain: "acme.com"}), ShouldBeNil)
	So(store.PutCompany(ctx, model.Company{ID: "globex", OrganizationID: "org-1", Name: "Globex", Domain: "globex.io"}), ShouldBeNil)
	svc := service.New(store)
	return api.NewServer(svc, opts...).Handler(), svc
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

const starSignal = `{"sourceId":"github","type":"repo_star","actorId":"gh:ana","accountId":"acme","metadata":{"repo":"pqa"}}`

func TestIngestRoutes(t *testing.T) {
	Convey("Given the API over an in-memory service", t, func() {
		h, _ := newServer()

		Convey("When a signal is posted twice", func() {
			first := do(h, http.MethodPost, base+"/signals", starSignal)
			second := do(h, http.MethodPost, base+"/signals", starSignal)

			Convey("Then the first is created and the second deduplicated", func() {
				So(first.Code, ShouldEqual, http.StatusCreated)
				body := decode(first)
				So(body["deduplicated"], ShouldEqual, false)
				So(body["signal"].(map[string]any)["accountId"], ShouldEqual, "acme")

				So(second.Code, ShouldEqual, http.StatusOK)
				So(decode(second)["deduplicated"], ShouldEqual, true)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, base+"/signals", `{`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When a required field is missing", func() {
			w := do(h, http.MethodPost, base+"/signals", `{"type":"repo_star"}`)

			Convey("Then the validation error names the field", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode(w)
				So(body["code"], ShouldEqual, "validation_error")
				So(body["field"], ShouldEqual, "sourceId")
			})
		})

		Convey("When a batch with a bad item is posted", func() {
			w := do(h, http.MethodPost, base+"/signals/batch", `{"signals":[`+starSignal+`,{"sourceId":"github"},`+starSignal+`]}`)

			Convey("Then per-item results are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				summary := decode(w)["summary"].(map[string]any)
				So(summary["total"], ShouldEqual, 3.0)
				So(summary["succeeded"], ShouldEqual, 2.0)
				So(summary["failed"], ShouldEqual, 1.0)
				So(summary["deduplicated"], ShouldEqual, 1.0)
			})
		})

		Convey("When an empty batch is posted", func() {
			w := do(h, http.MethodPost, base+"/signals/batch", `{"signals":[]}`)

			Convey("Then the request is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When signals are listed", func() {
			do(h, http.MethodPost, base+"/signals", starSignal)
			w := do(h, http.MethodGet, base+"/signals?type=repo_star&limit=10", "")

			Convey("Then a page is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["total"], ShouldEqual, 1.0)
				So(body["limit"], ShouldEqual, 10.0)
				So(len(body["items"].([]any)), ShouldEqual, 1)
			})

			Convey("Then a bad limit is rejected", func() {
				So(do(h, http.MethodGet, base+"/signals?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(h, http.MethodGet, base+"/signals?limit=500", "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(h, http.MethodGet, base+"/signals?from=yesterday", "").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When dedup stats are requested", func() {
			do(h, http.MethodPost, base+"/signals", starSignal)
			do(h, http.MethodPost, base+"/signals", starSignal)
			w := do(h, http.MethodGet, base+"/signals/dedup-stats", "")

			Convey("Then both windows are reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				day := body["24h"].(map[string]any)
				So(day["totalIngested"], ShouldEqual, 2.0)
				So(day["deduplicated"], ShouldEqual, 1.0)
				So(day["dedupRate"], ShouldEqual, 50.0)
				So(body["7d"], ShouldNotBeNil)
			})
		})
	})
}

func TestScoreRoutes(t *testing.T) {
	Convey("Given the API with one ingested signal", t, func() {
		h, _ := newServer()
		So(do(h, http.MethodPost, base+"/signals", starSignal).Code, ShouldEqual, http.StatusCreated)

		Convey("When the score was never computed", func() {
			w := do(h, http.MethodGet, base+"/accounts/acme/score", "")

			Convey("Then it answers score_not_computed", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode(w)["code"], ShouldEqual, "score_not_computed")
			})
		})

		Convey("When the score is computed", func() {
			w := do(h, http.MethodPost, base+"/accounts/acme/score", "")

			Convey("Then it is returned and readable", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				score := decode(w)["score"]

				got := do(h, http.MethodGet, base+"/accounts/acme/score", "")
				So(got.Code, ShouldEqual, http.StatusOK)
				So(decode(got)["score"], ShouldEqual, score)
			})

			Convey("Then the top accounts rank it", func() {
				do(h, http.MethodPost, base+"/accounts/globex/score", "")
				top := do(h, http.MethodGet, base+"/accounts/top?limit=5", "")
				So(top.Code, ShouldEqual, http.StatusOK)
				accounts := decode(top)["accounts"].([]any)
				So(len(accounts), ShouldEqual, 2)
				So(accounts[0].(map[string]any)["accountId"], ShouldEqual, "acme")
				So(accounts[0].(map[string]any)["rank"], ShouldEqual, 1.0)

				inactive := do(h, http.MethodGet, base+"/accounts/top?tier=inactive", "")
				So(len(decode(inactive)["accounts"].([]any)), ShouldEqual, 1)
			})
		})

		Convey("When an unknown account is computed", func() {
			w := do(h, http.MethodPost, base+"/accounts/ghost/score", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode(w)["code"], ShouldEqual, "not_found")
			})
		})

		Convey("When the top query is invalid", func() {
			So(do(h, http.MethodGet, base+"/accounts/top?tier=lukewarm", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, base+"/accounts/top?limit=101", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestHistoryRoutes(t *testing.T) {
	Convey("Given a scored account", t, func() {
		h, _ := newServer()
		do(h, http.MethodPost, base+"/signals", starSignal)
		do(h, http.MethodPost, base+"/accounts/acme/score", "")

		Convey("When snapshots are captured", func() {
			w := do(h, http.MethodPost, base+"/score-snapshots", "")

			Convey("Then history and overview include them", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["captured"], ShouldEqual, 1.0)

				hist := do(h, http.MethodGet, base+"/companies/acme/score-history?days=7", "")
				So(hist.Code, ShouldEqual, http.StatusOK)
				So(len(decode(hist)["snapshots"].([]any)), ShouldEqual, 1)

				ov := do(h, http.MethodGet, base+"/score-history/overview", "")
				So(ov.Code, ShouldEqual, http.StatusOK)
				So(decode(ov)["totals"].(map[string]any)["snapshots"], ShouldEqual, 1.0)
			})
		})

		Convey("When the window is out of range", func() {
			So(do(h, http.MethodGet, base+"/companies/acme/score-history?days=0x", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, base+"/companies/acme/score-history?days=400", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a tight ingestion allowance", t, func() {
		h, _ := newServer(api.WithIngestLimit(0.001, 1))

		Convey("When an org exceeds it", func() {
			first := do(h, http.MethodPost, base+"/signals", starSignal)
			second := do(h, http.MethodPost, base+"/signals", starSignal)
			other := do(h, http.MethodPost, "/api/v1/orgs/org-2/signals", `{"sourceId":"s","type":"page_view"}`)

			Convey("Then only that org is limited", func() {
				So(first.Code, ShouldEqual, http.StatusCreated)
				So(second.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decode(second)["code"], ShouldEqual, "rate_limited")
				So(other.Code, ShouldEqual, http.StatusCreated)
			})

			Convey("Then reads use their own allowance", func() {
				So(do(h, http.MethodGet, base+"/signals", "").Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestOpsRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		h, _ := newServer()

		Convey("Then health, stats and metrics answer", func() {
			health := do(h, http.MethodGet, "/healthz", "")
			So(health.Code, ShouldEqual, http.StatusOK)
			So(decode(health)["status"], ShouldEqual, "ok")

			stats := do(h, http.MethodGet, "/stats", "")
			So(stats.Code, ShouldEqual, http.StatusOK)
			So(decode(stats)["started"], ShouldEqual, false)

			So(do(h, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then unknown routes are not found", func() {
			So(do(h, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given the API with extra routes", t, func() {
		h := api.NewServer(service.New(memstore.New()), api.WithRoutes(func(r chi.Router) {
			r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		})).Handler()

		Convey("Then they are served beside the API", func() {
			So(do(h, http.MethodGet, "/docs", "").Code, ShouldEqual, http.StatusTeapot)
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

type brokenStore struct {
	*memstore.Store
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

func (brokenStore) GetScore(context.Context, string, string) (model.AccountScore, error) {
	return model.AccountScore{}, errors.New("connection refused")
}

func TestStoreFailures(t *testing.T) {
	Convey("Given a failing store", t, func() {
		h := api.NewServer(service.New(brokenStore{Store: memstore.New()})).Handler()

		Convey("Then persistence failures are internal errors without detail", func() {
			w := do(h, http.MethodGet, base+"/accounts/acme/score", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			body := decode(w)
			So(body["code"], ShouldEqual, "internal_error")
			So(body["message"], ShouldNotContainSubstring, "connection refused")
		})

		Convey("Then health reports degraded", func() {
			w := do(h, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode(w)["status"], ShouldEqual, "degraded")
		})
	})
}
