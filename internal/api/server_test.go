package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/study-tracker/internal/api"
	"github.com/p-n-ai/study-tracker/internal/curriculum"
	"github.com/p-n-ai/study-tracker/internal/docstore"
	"github.com/p-n-ai/study-tracker/internal/identity"
	"github.com/p-n-ai/study-tracker/internal/progress"
)

const (
	testNamespace = "artifacts"
	testAppID     = "study-tracker"
)

type testEnv struct {
	store    *docstore.MemoryStore
	verifier *identity.Verifier
	server   *httptest.Server
}

func newTestEnv(t *testing.T, allowAnonymous bool, templates *curriculum.Loader) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    docstore.NewMemoryStore(),
		verifier: identity.NewVerifier("test-secret", time.Hour),
	}
	srv := api.NewServer(api.Config{
		Store:          env.store,
		Namespace:      testNamespace,
		AppID:          testAppID,
		WriteTimeout:   time.Second,
		Verifier:       env.verifier,
		AllowAnonymous: allowAnonymous,
		Templates:      templates,
	})
	mux := http.NewServeMux()
	srv.Register(mux)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.verifier.Issue(identity.Identity{ID: userID})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

type serverMessage struct {
	Type  string        `json:"type"`
	List  progress.Tree `json:"list"`
	Error string        `json:"error"`
}

// awaitSnapshot reads until a snapshot satisfies pred.
func awaitSnapshot(t *testing.T, ctx context.Context, conn *websocket.Conn, pred func(progress.Tree) bool) progress.Tree {
	t.Helper()
	for {
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for snapshot: %v", err)
		}
		if msg.Type == api.MessageSnapshot && pred(msg.List) {
			return msg.List
		}
	}
}

func awaitError(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()
	for {
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for error: %v", err)
		}
		if msg.Type == api.MessageError {
			return msg.Error
		}
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, cmd api.Command) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		t.Fatalf("Write(%s) error = %v", cmd.Op, err)
	}
}

func onlySection(ch progress.Chapter) progress.Section {
	for _, s := range ch.Sections {
		return s
	}
	return progress.Section{}
}

func TestWebSocket_Session(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.token(t, "user-1"))
	awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool { return len(tr) == 0 })

	send(t, ctx, conn, api.Command{Op: api.OpAddSubject, Name: "Math"})
	tree := awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool { return len(tr) == 1 })
	subjectID := tree[0].ID

	send(t, ctx, conn, api.Command{Op: api.OpAddChapter, SubjectID: subjectID, Name: "Algebra", Kinds: []string{"notes"}})
	tree = awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool { return len(tr) == 1 && len(tr[0].Chapters) == 1 })
	ch := tree[0].Chapters[0]
	sec := onlySection(ch)

	send(t, ctx, conn, api.Command{Op: api.OpGenerateQuestions, SubjectID: subjectID, ChapterID: ch.ID, SectionID: sec.ID, Count: 2})
	send(t, ctx, conn, api.Command{Op: api.OpToggleQuestion, SubjectID: subjectID, ChapterID: ch.ID, SectionID: sec.ID, QuestionID: "q-1"})
	tree = awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool {
		return len(tr) == 1 && len(tr[0].Chapters) == 1 && tr[0].Chapters[0].Progress == 50
	})
	if tree[0].Name != "Math" {
		t.Errorf("subject name = %q, want Math", tree[0].Name)
	}

	path := docstore.Path(testNamespace, testAppID, "user-1")
	deadline := time.Now().Add(3 * time.Second)
	for {
		if doc := env.store.Get(path); doc != nil {
			stored, err := progress.DecodeDocument(doc)
			if err != nil {
				t.Fatalf("DecodeDocument() error = %v", err)
			}
			if len(stored) == 1 && len(stored[0].Chapters) == 1 && stored[0].Chapters[0].Progress == 50 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("document was not persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_SeesStoredDocument(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	doc, err := progress.EncodeDocument(progress.AddSubject(nil, "Physics"))
	if err != nil {
		t.Fatalf("EncodeDocument() error = %v", err)
	}
	path := docstore.Path(testNamespace, testAppID, "user-2")
	if err := env.store.Write(ctx, path, doc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	conn := env.dial(t, ctx, env.token(t, "user-2"))
	tree := awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool { return len(tr) == 1 })
	if tree[0].Name != "Physics" {
		t.Errorf("subject = %q, want Physics", tree[0].Name)
	}

	// A write from another device is pushed to the open socket.
	doc, _ = progress.EncodeDocument(progress.AddSubject(tree, "Chemistry"))
	if err := env.store.Write(ctx, path, doc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool { return len(tr) == 2 })
}

func TestWebSocket_CommandErrors(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "")

	send(t, ctx, conn, api.Command{Op: "renameEverything"})
	if msg := awaitError(t, ctx, conn); !strings.Contains(msg, "unknown op") {
		t.Errorf("error = %q, want unknown op", msg)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if msg := awaitError(t, ctx, conn); !strings.Contains(msg, "invalid command") {
		t.Errorf("error = %q, want invalid command", msg)
	}

	send(t, ctx, conn, api.Command{Op: api.OpApplyTemplate, TemplateID: "kssm-f1-math"})
	if msg := awaitError(t, ctx, conn); !strings.Contains(msg, "no templates") {
		t.Errorf("error = %q, want no templates", msg)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name  string
		query string
	}{
		{"missing", ""},
		{"invalid", "?token=garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws" + tt.query
			conn, resp, err := websocket.Dial(ctx, url, nil)
			if err == nil {
				conn.CloseNow()
				t.Fatal("Dial() should fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
		})
	}
}

func TestWebSocket_ApplyTemplate(t *testing.T) {
	dir := t.TempDir()
	yaml := `id: kssm-f1-math
subject: Matematik Tingkatan 1
chapters:
  - name: Nombor Nisbah
    sections: [notes, exercise]
    exercises:
      - name: Latihan 1.1
        questions: 4
`
	if err := os.WriteFile(filepath.Join(dir, "kssm-f1-math.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "kssm-f1-math.notes.md"), []byte("# Form 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	env := newTestEnv(t, true, loader)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "")
	send(t, ctx, conn, api.Command{Op: api.OpApplyTemplate, TemplateID: "kssm-f1-math"})
	tree := awaitSnapshot(t, ctx, conn, func(tr progress.Tree) bool { return len(tr) == 1 })
	if tree[0].Name != "Matematik Tingkatan 1" || len(tree[0].Chapters) != 1 {
		t.Fatalf("tree = %+v", tree)
	}
	if got := len(tree[0].Chapters[0].Sections); got != 2 {
		t.Errorf("sections = %d, want 2", got)
	}

	send(t, ctx, conn, api.Command{Op: api.OpApplyTemplate, TemplateID: "missing"})
	if msg := awaitError(t, ctx, conn); !strings.Contains(msg, "unknown template") {
		t.Errorf("error = %q, want unknown template", msg)
	}

	resp, err := http.Get(env.server.URL + "/templates")
	if err != nil {
		t.Fatalf("GET /templates error = %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Templates []struct {
			ID       string `json:"id"`
			Chapters int    `json:"chapters"`
		} `json:"templates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode templates: %v", err)
	}
	if len(body.Templates) != 1 || body.Templates[0].ID != "kssm-f1-math" || body.Templates[0].Chapters != 1 {
		t.Errorf("templates = %+v", body.Templates)
	}

	notes, err := http.Get(env.server.URL + "/templates/kssm-f1-math/notes")
	if err != nil {
		t.Fatalf("GET notes error = %v", err)
	}
	defer notes.Body.Close()
	text, _ := io.ReadAll(notes.Body)
	if notes.StatusCode != http.StatusOK || string(text) != "# Form 1" {
		t.Errorf("notes = %d %q", notes.StatusCode, text)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := t.Context()

	tree := progress.AddSubject(nil, "Math")
	tree = progress.AddChapter(tree, tree[0].ID, "Algebra", []string{"notes"})
	doc, err := progress.EncodeDocument(tree)
	if err != nil {
		t.Fatalf("EncodeDocument() error = %v", err)
	}
	if err := env.store.Write(ctx, docstore.Path(testNamespace, testAppID, "user-3"), doc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/export.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "user-3"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /export.xlsx error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	data, _ := io.ReadAll(resp.Body)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Summary")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "Math" || rows[1][1] != "Algebra" {
		t.Errorf("rows = %v", rows)
	}
}

func TestExport_RequiresToken(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/export.xlsx", nil)
	env.server.Config.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAnonymousToken(t *testing.T) {
	tests := []struct {
		name       string
		allow      bool
		wantStatus int
	}{
		{"allowed", true, http.StatusOK},
		{"disabled", false, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.allow, nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/token/anonymous", nil)
			env.server.Config.Handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !tt.allow {
				return
			}
			var body struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			id, err := env.verifier.Verify(body.Token)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if !id.IsAnonymous || !strings.HasPrefix(id.ID, "anon-") {
				t.Errorf("identity = %+v, want anonymous", id)
			}
		})
	}
}
