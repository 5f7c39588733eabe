package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"course-intake/internal/classify"
	"course-intake/internal/intake"
	"course-intake/internal/model"
	"course-intake/internal/service"
	"course-intake/internal/taskqueue"
	"course-intake/internal/validation"
	"course-intake/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwner uint = 7

type fakeTransmitter struct {
	fail map[string]string
}

func (f *fakeTransmitter) Transmit(_ context.Context, req intake.TransmitRequest) (intake.TransmitResponse, error) {
	var resp intake.TransmitResponse
	for _, c := range req.Files {
		req.OnProgress(c.LocalID, intake.ProgressEvent{Loaded: c.Size, Total: c.Size})
		if msg, ok := f.fail[c.Name]; ok {
			resp.Errors = append(resp.Errors, model.FileError{FileName: c.Name, Error: msg})
			continue
		}
		resp.Files = append(resp.Files, model.FileRecord{
			ID:          "rec-" + c.Name,
			LocalID:     c.LocalID,
			OwnerID:     req.OwnerID,
			CourseID:    req.CourseID,
			DisplayName: c.Name,
			ContentType: c.ContentType,
			FileSize:    c.Size,
			ObjectKey:   "uploads/" + c.Name,
		})
	}
	return resp, nil
}

type fakeChecker struct{}

func (fakeChecker) CheckDuplicate(_ context.Context, _ uint, hash, _ string) (intake.DuplicateCheck, error) {
	if hash == "known" {
		return intake.DuplicateCheck{IsDuplicate: true, ExistingFile: &intake.ExistingFile{ID: "f-old", DisplayName: "old.pdf"}}, nil
	}
	return intake.DuplicateCheck{}, nil
}

type fakeDocs struct {
	files   map[string]*model.FileRecord
	deleted []string
}

func (f *fakeDocs) ListFiles(_ context.Context, ownerID uint, courseID string) ([]model.FileRecord, error) {
	out := []model.FileRecord{}
	for _, r := range f.files {
		if r.OwnerID == ownerID && (courseID == "" || r.CourseID == courseID) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeDocs) GetFile(_ context.Context, ownerID uint, fileID string) (*model.FileRecord, error) {
	r, ok := f.files[fileID]
	if !ok || r.OwnerID != ownerID {
		return nil, service.ErrFileNotFound
	}
	return r, nil
}

func (f *fakeDocs) DeleteFile(ctx context.Context, ownerID uint, fileID string) error {
	if _, err := f.GetFile(ctx, ownerID, fileID); err != nil {
		return err
	}
	delete(f.files, fileID)
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *fakeDocs) GenerateDownloadURL(ctx context.Context, ownerID uint, fileID string) (*service.DownloadInfoDTO, error) {
	r, err := f.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	return &service.DownloadInfoDTO{FileName: r.DisplayName, DownloadURL: "http://minio/" + r.ObjectKey, FileSize: r.FileSize}, nil
}

func (f *fakeDocs) GetFilePreviewContent(ctx context.Context, ownerID uint, fileID string) (*service.PreviewInfoDTO, error) {
	r, err := f.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	return &service.PreviewInfoDTO{FileName: r.DisplayName, Content: r.ExtractedText}, nil
}

type fakeSearch struct {
	last service.SearchQuery
}

func (f *fakeSearch) Search(_ context.Context, q service.SearchQuery) ([]service.SearchResult, int64, error) {
	f.last = q
	return []service.SearchResult{{FileID: "f-1", FileName: "week1.pdf", Score: 2.5}}, 1, nil
}

type fakeCourses struct {
	courses []model.Course
}

func (f *fakeCourses) ListCourses(_ context.Context, ownerID uint) ([]model.Course, error) {
	out := []model.Course{}
	for _, c := range f.courses {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCourses) CreateCourse(_ context.Context, ownerID uint, req service.CreateCourseRequest) (*model.Course, error) {
	c := model.Course{ID: "c-new", OwnerID: ownerID, Code: req.Code, Name: req.Name}
	f.courses = append(f.courses, c)
	return &c, nil
}

func (f *fakeCourses) DeleteCourse(_ context.Context, ownerID uint, courseID string) error {
	for i, c := range f.courses {
		if c.ID == courseID && c.OwnerID == ownerID {
			f.courses = append(f.courses[:i], f.courses[i+1:]...)
			return nil
		}
	}
	return service.ErrCourseNotFound
}

func (f *fakeCourses) Detect(ctx context.Context, ownerID uint, fileName string, limit int) (*service.Detection, error) {
	courses, _ := f.ListCourses(ctx, ownerID)
	return &service.Detection{
		FileName:    fileName,
		Course:      classify.DetectCourseFromFile(fileName, courses),
		Suggestions: classify.GetCourseSuggestions(fileName, courses, limit),
		Category:    classify.ExplainCategory(fileName),
	}, nil
}

type testEnv struct {
	engine   *gin.Engine
	token    string
	queue    *taskqueue.Queue
	tx       *fakeTransmitter
	docs     *fakeDocs
	search   *fakeSearch
	courses  *fakeCourses
	hub      *ProgressHub
	mu       sync.Mutex
	progress map[uint][][]model.UploadProgress
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtManager := token.NewJWTManager("test-secret", 1)
	tok, err := jwtManager.GenerateToken(testOwner, "alice")
	require.NoError(t, err)

	env := &testEnv{
		token: tok,
		queue: taskqueue.New(taskqueue.Options{}, taskqueue.NewMemoryStore(), taskqueue.Handlers{}),
		tx:    &fakeTransmitter{},
		docs: &fakeDocs{files: map[string]*model.FileRecord{
			"f-1": {ID: "f-1", OwnerID: testOwner, DisplayName: "week1.pdf", ContentType: "application/pdf", ObjectKey: "uploads/7/f-1/week1.pdf", ExtractedText: "intro"},
			"f-2": {ID: "f-2", OwnerID: 99, DisplayName: "other.pdf"},
		}},
		search: &fakeSearch{},
		courses: &fakeCourses{courses: []model.Course{
			{ID: "c-cs", OwnerID: testOwner, Code: "CS101", Name: "Introduction to Computer Science"},
		}},
		hub:      NewProgressHub(),
		progress: make(map[uint][][]model.UploadProgress),
	}

	deps := intake.Deps{
		Validator:   validation.New(validation.Options{MaxBatchFiles: 3}),
		Transmitter: env.tx,
		Checker:     fakeChecker{},
		Seeder:      env.queue,
	}
	listener := func(ownerID uint, snap []model.UploadProgress) {
		env.mu.Lock()
		env.progress[ownerID] = append(env.progress[ownerID], snap)
		env.mu.Unlock()
	}

	env.engine = gin.New()
	RegisterRoutes(env.engine, Handlers{
		Upload:   NewUploadHandler(deps, intake.Options{SkipDuplicateCheck: true}, 0, listener, env.hub.PublishProgress),
		Document: NewDocumentHandler(env.docs),
		Search:   NewSearchHandler(env.search),
		Course:   NewCourseHandler(env.courses),
		Task:     NewTaskHandler(env.queue, env.docs),
		Health:   NewHealthHandler(env.queue, env.hub),
		Hub:      env.hub,
	}, jwtManager)
	return env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (e *testEnv) doJSON(t *testing.T, method, path string, v interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body []byte
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = b
	}
	return e.do(t, method, path, body, "application/json")
}

func multipartBody(t *testing.T, files map[string]string, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadSuccessSeedsTasks(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{
		"CS101_lecture_1.txt": "recursion",
		"notes.md":            "# notes",
	}, map[string]string{"courseId": "c-cs"})

	w, resp := env.do(t, http.MethodPost, "/api/v1/files/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res intake.BatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, intake.OutcomeSuccess, res.Outcome)
	assert.Len(t, res.Uploaded, 2)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.TaskIDs)
	for _, rec := range res.Uploaded {
		assert.Equal(t, "c-cs", rec.CourseID)
	}
	for _, task := range env.queue.Tasks() {
		assert.Equal(t, testOwner, task.OwnerID)
	}

	env.mu.Lock()
	assert.NotEmpty(t, env.progress[testOwner])
	env.mu.Unlock()
}

func TestUploadPartialReturnsMultiStatus(t *testing.T) {
	env := newTestEnv(t)
	env.tx.fail = map[string]string{"b.txt": "File already exists"}
	body, ct := multipartBody(t, map[string]string{"a.txt": "a", "b.txt": "b"}, nil)

	w, resp := env.do(t, http.MethodPost, "/api/v1/files/upload", body, ct)
	require.Equal(t, http.StatusMultiStatus, w.Code)

	var res intake.BatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, intake.OutcomePartial, res.Outcome)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b.txt", res.Errors[0].FileName)
	assert.Contains(t, res.Errors[0].Error, "already exists")
}

func TestUploadRejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c", "d.txt": "d"}, nil)

	w, resp := env.do(t, http.MethodPost, "/api/v1/files/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var res intake.BatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.NotEmpty(t, res.BatchError)
	assert.Empty(t, env.queue.Tasks())
}

func TestUploadAllInvalid(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"setup.exe": "MZ"}, nil)

	w, resp := env.do(t, http.MethodPost, "/api/v1/files/upload", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var res intake.BatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, intake.OutcomeFailure, res.Outcome)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "setup.exe", res.Errors[0].FileName)
}

func TestUploadBadForm(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodPost, "/api/v1/files/upload", []byte("nope"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckDuplicate(t *testing.T) {
	env := newTestEnv(t)
	w, resp := env.doJSON(t, http.MethodPost, "/api/v1/files/check", gin.H{"hash": "known"})
	require.Equal(t, http.StatusOK, w.Code)
	var res intake.DuplicateCheck
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "f-old", res.ExistingFile.ID)

	w, _ = env.doJSON(t, http.MethodPost, "/api/v1/files/check", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSupportedTypes(t *testing.T) {
	env := newTestEnv(t)
	w, resp := env.do(t, http.MethodGet, "/api/v1/files/supported-types", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Extensions    []string `json:"extensions"`
		MaxBatchFiles int      `json:"maxBatchFiles"`
		MaxFileSize   int64    `json:"maxFileSize"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Contains(t, data.Extensions, ".pdf")
	assert.Equal(t, 3, data.MaxBatchFiles)
	assert.Positive(t, data.MaxFileSize)
}

func TestDocumentRoutesEnforceOwnership(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/files", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var files []model.FileRecord
	require.NoError(t, json.Unmarshal(resp.Data, &files))
	require.Len(t, files, 1)
	assert.Equal(t, "f-1", files[0].ID)

	w, _ = env.do(t, http.MethodGet, "/api/v1/files/f-2", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/v1/files/f-1/download", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), "http://minio/uploads/7/f-1/week1.pdf")

	w, resp = env.do(t, http.MethodGet, "/api/v1/files/f-1/preview", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), "intro")

	w, _ = env.do(t, http.MethodDelete, "/api/v1/files/f-2", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodDelete, "/api/v1/files/f-1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"f-1"}, env.docs.deleted)
}

func TestSearchPassesFilters(t *testing.T) {
	env := newTestEnv(t)
	w, resp := env.do(t, http.MethodGet, "/api/v1/files/search?q=Dynamic+Programming&courseId=c-cs&category=lecture&size=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.SearchQuery{OwnerID: testOwner, Query: "Dynamic Programming", CourseID: "c-cs", Category: "lecture", Size: 5}, env.search.last)
	assert.Contains(t, string(resp.Data), `"total":1`)

	w, _ = env.do(t, http.MethodGet, "/api/v1/files/search?size=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCourseRoutes(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.doJSON(t, http.MethodPost, "/api/v1/courses", gin.H{"code": "MATH201"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.doJSON(t, http.MethodPost, "/api/v1/courses", gin.H{"code": "MATH201", "name": "Linear Algebra"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := env.do(t, http.MethodGet, "/api/v1/courses", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var courses []model.Course
	require.NoError(t, json.Unmarshal(resp.Data, &courses))
	assert.Len(t, courses, 2)

	w, _ = env.do(t, http.MethodDelete, "/api/v1/courses/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodDelete, "/api/v1/courses/c-new", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetect(t *testing.T) {
	env := newTestEnv(t)
	w, resp := env.doJSON(t, http.MethodPost, "/api/v1/courses/detect", gin.H{"fileNames": []string{"CS101_Assignment_2.pdf", "holiday.jpg"}})
	require.Equal(t, http.StatusOK, w.Code)

	var out []service.Detection
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Course)
	assert.Equal(t, "c-cs", out[0].Course.TargetID)
	assert.Equal(t, classify.CategoryAssignment, out[0].Category.Category)
	assert.Nil(t, out[1].Course)

	w, _ = env.doJSON(t, http.MethodPost, "/api/v1/courses/detect", gin.H{"fileNames": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	foreign, err := env.queue.AddTask(ctx, taskqueue.TaskSpec{
		FileID: "f-2", OwnerID: 99, FileName: "other.pdf", Payload: taskqueue.CategorizationPayload{OwnerID: 99},
	})
	require.NoError(t, err)

	w, resp := env.doJSON(t, http.MethodPost, "/api/v1/tasks", gin.H{"fileId": "f-1", "taskType": "translation", "targetLanguage": "French"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created taskqueue.Task
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, taskqueue.TaskTranslation, created.TaskType)
	assert.Equal(t, testOwner, created.OwnerID)
	assert.Equal(t, taskqueue.StatusPending, created.Status)

	w, _ = env.doJSON(t, http.MethodPost, "/api/v1/tasks", gin.H{"fileId": "f-1", "taskType": "translation"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.doJSON(t, http.MethodPost, "/api/v1/tasks", gin.H{"fileId": "f-2", "taskType": "summary"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.doJSON(t, http.MethodPost, "/api/v1/tasks", gin.H{"fileId": "f-1", "taskType": "categorization"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/v1/tasks", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []taskqueue.Task
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	w, _ = env.do(t, http.MethodGet, "/api/v1/tasks/"+foreign, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/tasks/"+created.ID+"/retry", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = env.do(t, http.MethodGet, "/api/v1/tasks/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats taskqueue.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, taskqueue.Stats{Total: 1, Pending: 1}, stats)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestProgressHubScopesByOwner(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + env.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	env.hub.OnTaskUpdate(taskqueue.Task{ID: "foreign", OwnerID: 99, TaskType: taskqueue.TaskCategorization})
	env.hub.OnTaskUpdate(taskqueue.Task{ID: "mine", OwnerID: testOwner, TaskType: taskqueue.TaskCategorization, Status: taskqueue.StatusCompleted})
	env.hub.PublishProgress(testOwner, []model.UploadProgress{{FileID: "local-1", Progress: 40, Status: model.UploadUploading}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first struct {
		Type string         `json:"type"`
		Data taskqueue.Task `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, messageTask, first.Type)
	assert.Equal(t, "mine", first.Data.ID)

	var second struct {
		Type string                 `json:"type"`
		Data []model.UploadProgress `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, messageUploadProgress, second.Type)
	require.Len(t, second.Data, 1)
	assert.Equal(t, 40, second.Data[0].Progress)

	conn.Close()
	assert.Eventually(t, func() bool { return env.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
