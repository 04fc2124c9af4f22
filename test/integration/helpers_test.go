package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/http/handler"
	"github.com/example/authgate/internal/http/router"
	"github.com/example/authgate/internal/repository"
	"github.com/example/authgate/internal/security"
	"github.com/example/authgate/internal/service"
	"github.com/example/authgate/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// newAuthTestServer wires the full HTTP stack over miniredis and an
// in-memory sqlite database and returns a cookie-jar client bound to it.
func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()

	redisServer := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	codec := security.NewTokenCodec("authgate-itest", "authgate-itest-api", testSecret, testSecret+"-refresh")
	sessions := store.NewRedisSessionStore(redisClient)
	manager := service.NewSessionManager(codec, sessions, service.SessionManagerOptions{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	users := repository.NewUserRepository(db)
	identity := service.NewLocalIdentityService(users)
	oauth := service.NewOAuthService(sessions, users, 10*time.Minute)

	srv := httptest.NewServer(router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(manager, identity, oauth, false),
		UserHandler:      handler.NewUserHandler(manager, identity),
		AccessVerifier:   manager,
		CORSOrigins:      []string{"http://localhost:3000"},
		APIRateLimitRPM:  100000,
		AuthRateLimitRPM: 100000,
		OAuthProviders:   oauth.ProviderNames(),
	}))

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	closeFn := func() {
		srv.Close()
		_ = redisClient.Close()
		_ = sqlDB.Close()
	}
	return srv.URL, client, closeFn
}

func doJSON(t *testing.T, client *http.Client, method, rawURL string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %s: %v (%s)", rawURL, err, raw)
		}
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func pairFrom(t *testing.T, env apiEnvelope) tokenPair {
	t.Helper()
	var pair tokenPair
	if err := json.Unmarshal(env.Data, &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete token pair: %s", env.Data)
	}
	return pair
}
