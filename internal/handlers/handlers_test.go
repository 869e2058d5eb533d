package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"braibit-api/internal/events"
	"braibit-api/internal/ledger"
	"braibit-api/internal/market"
	"braibit-api/internal/models"
	"braibit-api/internal/services"
	"braibit-api/pkg/database"
	"braibit-api/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app    *fiber.App
	hub    *events.Hub
	ledger *ledger.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hub := events.NewHub(nil)
	l := ledger.New(database.NewMemoryStore(), nil, ledger.Options{
		Generator: utils.NewSeededGenerator(3),
		OnPersist: func(name string) { hub.Publish(name) },
	})
	require.NoError(t, l.Load(context.Background(), func() (*ledger.Genesis, error) {
		return &ledger.Genesis{
			Accounts: []models.Account{
				{ID: 1, Role: models.RoleTutor, Name: "Ana Tutor", Email: "ana@school.test", Address: "0xt1", Balance: decimal.NewFromInt(10000),
					Groups: []models.Group{{ID: "1ESO-A", Name: "1ESO-A"}}},
				{ID: 101, Role: models.RoleStudent, Name: "Carla", Nickname: "BRAILLE001", Secret: "abc", Address: "0xs1",
					Balance: decimal.NewFromInt(300), Group: "1ESO-A", TutorOwnerID: 1},
			},
			Tasks: []models.Task{{ID: 1, Name: "Homework", Reward: decimal.NewFromInt(100)}},
			Catalog: []models.CatalogItem{
				{ID: 1, Name: "Pencil", Price: decimal.NewFromInt(150), Stock: 5},
				{ID: 2, Name: "Sticker", Price: decimal.NewFromInt(1), Stock: 0},
			},
		}, nil
	}))

	m := market.New(market.NewQuoter("http://unused", nil), market.NewTokenPrice(utils.NewSeededGenerator(3)))
	svc := services.NewService(l, m, "handler-secret", "Braibit2025", nil)
	h := NewHandler(svc, hub, nil)

	return &testEnv{
		app:    NewApp(h, "http://localhost:3000", false),
		hub:    hub,
		ledger: l,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) login(t *testing.T, req models.LoginRequest) string {
	t.Helper()

	resp, body := e.do(t, http.MethodPost, "/api/login", "", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out struct {
		Token   string         `json:"token"`
		Account models.Account `json:"account"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (e *testEnv) tutorToken(t *testing.T) string {
	return e.login(t, models.LoginRequest{Role: models.RoleTutor, Email: "ana@school.test", Password: "Braibit2025"})
}

func (e *testEnv) studentToken(t *testing.T) string {
	return e.login(t, models.LoginRequest{Role: models.RoleStudent, Nickname: "BRAILLE001", Password: "abc"})
}

func errorBody(t *testing.T, body []byte) (string, string) {
	t.Helper()
	var out struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out.Error, out.Details
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/login", "", models.LoginRequest{
		Role: models.RoleStudent, Nickname: "BRAILLE001", Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	msg, _ := errorBody(t, body)
	assert.Equal(t, "Invalid credentials", msg)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	raw, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/login", "", models.LoginRequest{
		Role: models.RoleStudent, Nickname: "BRAILLE001", Password: "abc",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), `"secret"`)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	msg, _ := errorBody(t, body)
	assert.Equal(t, "Missing token", msg)

	resp, _ = env.do(t, http.MethodGet, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := env.studentToken(t)
	resp, _ = env.do(t, http.MethodGet, "/api/me?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/me", env.studentToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var wallet services.Wallet
	require.NoError(t, json.Unmarshal(body, &wallet))
	assert.Equal(t, 101, wallet.Account.ID)
	assert.Equal(t, "300", wallet.Account.Balance.String())
	assert.Empty(t, wallet.Account.Secret)
	assert.Equal(t, "BRAILLE001", wallet.Login)
	assert.Equal(t, 3, wallet.RequiredConfirmations)
}

func TestAwardPurchaseCancelFlow(t *testing.T) {
	env := newTestEnv(t)
	tutor := env.tutorToken(t)
	student := env.studentToken(t)

	resp, body := env.do(t, http.MethodPost, "/api/awards", student, models.AwardRequest{StudentID: 101, TaskID: 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/awards", tutor, models.AwardRequest{StudentID: 101, TaskID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var award models.Transaction
	require.NoError(t, json.Unmarshal(body, &award))
	assert.Equal(t, models.TxStatusPending, award.Status)

	resp, body = env.do(t, http.MethodPost, "/api/purchases", student, models.PurchaseRequest{ItemID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var purchase models.Transaction
	require.NoError(t, json.Unmarshal(body, &purchase))
	assert.Equal(t, utils.StoreAddress, purchase.ToAddress)

	resp, body = env.do(t, http.MethodPost, "/api/purchases", student, models.PurchaseRequest{ItemID: 2})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	acc, _ := env.ledger.Account(101)
	assert.Equal(t, "249.75", acc.Balance.String())

	resp, body = env.do(t, http.MethodPost, "/api/transactions/"+purchase.ID+"/cancel", student, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/transactions/"+purchase.ID+"/cancel", student, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	msg, _ := errorBody(t, body)
	assert.Equal(t, "Transaction already cancelled", msg)

	resp, _ = env.do(t, http.MethodPost, "/api/transactions/unknown/cancel", tutor, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	acc, _ = env.ledger.Account(101)
	assert.Equal(t, "399.9", acc.Balance.String())

	resp, body = env.do(t, http.MethodGet, "/api/transactions", student, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.Transaction
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 2)
	assert.Equal(t, purchase.ID, history[0].ID)
	assert.Equal(t, models.TxStatusCancelled, history[0].Status)
}

func TestReadOnlyRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(t)
	env.ledger.Tick(context.Background())

	for _, path := range []string{"/api/tasks", "/api/store", "/api/blocks", "/api/market"} {
		t.Run(path, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, path, token, nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
			assert.True(t, json.Valid(body))
		})
	}

	_, body := env.do(t, http.MethodGet, "/api/blocks", token, nil)
	var blocks []models.Block
	require.NoError(t, json.Unmarshal(body, &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, int64(1), blocks[0].Number)
}

func TestAccountsAndGroups(t *testing.T) {
	env := newTestEnv(t)
	tutor := env.tutorToken(t)

	resp, _ := env.do(t, http.MethodGet, "/api/accounts", env.studentToken(t), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/accounts?group=1ESO-A", tutor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var students []models.Account
	require.NoError(t, json.Unmarshal(body, &students))
	require.Len(t, students, 1)
	assert.Equal(t, "BRAILLE001", students[0].Nickname)

	resp, body = env.do(t, http.MethodPut, "/api/groups/1ESO-A", tutor, models.RenameGroupRequest{Name: "Linces"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "Linces")

	resp, _ = env.do(t, http.MethodPut, "/api/groups/1ESO-A", tutor, models.RenameGroupRequest{Name: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExports(t *testing.T) {
	env := newTestEnv(t)
	tutor := env.tutorToken(t)

	resp, body := env.do(t, http.MethodGet, "/api/export/csv?group=1ESO-A", tutor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "braibit-students-1ESO-A.csv")
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nickname,name,group,secret,balance\nBRAILLE001,Carla,1ESO-A,abc,300\n", string(body))

	resp, body = env.do(t, http.MethodGet, "/api/export/print", tutor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<td>BRAILLE001</td>")

	resp, _ = env.do(t, http.MethodGet, "/api/export/csv", env.studentToken(t), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExportFilenameIgnoresUnsafeGroup(t *testing.T) {
	env := newTestEnv(t)
	tutor := env.tutorToken(t)

	for _, group := range []string{`../../etc/x"`, "1ESO A", "año"} {
		resp, body := env.do(t, http.MethodGet, "/api/export/csv?group="+url.QueryEscape(group), tutor, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, `attachment; filename="braibit-students.csv"`, resp.Header.Get("Content-Disposition"), group)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	token := env.studentToken(t)

	type result struct {
		resp *http.Response
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/api/events?token="+token, nil)
		resp, err := env.app.Test(req, -1)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		done <- result{resp: resp, body: body, err: err}
	}()

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := env.ledger.Purchase(context.Background(), 101, 1)
	require.NoError(t, err)
	env.hub.Close()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.resp.StatusCode)
		assert.Equal(t, "text/event-stream", res.resp.Header.Get("Content-Type"))
		assert.Contains(t, string(res.body), "event: change")
		assert.Contains(t, string(res.body), `"name":"users"`)
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end after the hub closed")
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	tutor := env.tutorToken(t)

	resp, body := env.do(t, http.MethodPost, "/api/awards", tutor, models.AwardRequest{StudentID: 101})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	msg, details := errorBody(t, body)
	assert.Equal(t, "Validation failed", msg)
	assert.Equal(t, "task_id: required", details)

	resp, body = env.do(t, http.MethodPost, "/api/login", "", models.LoginRequest{Role: "admin", Password: "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, details = errorBody(t, body)
	assert.Contains(t, details, "role: oneof=tutor student")

	resp, body = env.do(t, http.MethodPost, "/api/login", "", models.LoginRequest{Role: models.RoleStudent, Password: "abc"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, details = errorBody(t, body)
	assert.Contains(t, details, "nickname: required_if")
}
