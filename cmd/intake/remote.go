package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"

	"course-intake/internal/intake"
	"course-intake/internal/model"
)

// remoteClient 通过服务端的 HTTP 接口完成上传和查重，实现 intake.Transmitter 与 intake.DuplicateChecker。
type remoteClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newRemoteClient(baseURL, token string) *remoteClient {
	return &remoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

type apiEnvelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Transmit 把整批文件写成一个流式 multipart 请求，边写边上报进度。
func (c *remoteClient) Transmit(ctx context.Context, req intake.TransmitRequest) (intake.TransmitResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeBatch(mw, req)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files/upload", pr)
	if err != nil {
		_ = pr.Close()
		return intake.TransmitResponse{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return intake.TransmitResponse{}, err
	}
	defer resp.Body.Close()

	var env apiEnvelope[intake.BatchResult]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return intake.TransmitResponse{}, fmt.Errorf("解析上传响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusMultiStatus, http.StatusUnprocessableEntity:
		return intake.TransmitResponse{Files: env.Data.Uploaded, Errors: env.Data.Errors}, nil
	default:
		return intake.TransmitResponse{}, fmt.Errorf("服务端拒绝上传 (HTTP %d): %s", resp.StatusCode, env.Message)
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeBatch(mw *multipart.Writer, req intake.TransmitRequest) error {
	if req.CourseID != "" {
		if err := mw.WriteField("courseId", req.CourseID); err != nil {
			return err
		}
	}
	if req.FolderID != "" {
		if err := mw.WriteField("folderId", req.FolderID); err != nil {
			return err
		}
	}
	for _, f := range req.Files {
		if err := mw.WriteField("localIds", f.LocalID); err != nil {
			return err
		}
	}
	for _, f := range req.Files {
		if err := writeFilePart(mw, f, req.OnProgress); err != nil {
			return err
		}
	}
	return nil
}

func writeFilePart(mw *multipart.Writer, f *model.FileCandidate, onProgress intake.ProgressFunc) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", f.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	r, err := f.Reader()
	if err != nil {
		return err
	}
	_, err = io.Copy(part, &countingReader{r: r, onRead: func(n int64) {
		if onProgress != nil {
			onProgress(f.LocalID, intake.ProgressEvent{Loaded: n, Total: f.Size})
		}
	}})
	return err
}

type countingReader struct {
	r      io.Reader
	read   atomic.Int64
	onRead func(total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(c.read.Add(int64(n)))
	}
	return n, err
}

type checkRequest struct {
	Hash     string `json:"hash"`
	CourseID string `json:"courseId,omitempty"`
}

// CheckDuplicate 调用服务端的查重接口。ownerID 由 token 决定，这里忽略。
func (c *remoteClient) CheckDuplicate(ctx context.Context, _ uint, hash, courseID string) (intake.DuplicateCheck, error) {
	body, err := json.Marshal(checkRequest{Hash: hash, CourseID: courseID})
	if err != nil {
		return intake.DuplicateCheck{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files/check", bytes.NewReader(body))
	if err != nil {
		return intake.DuplicateCheck{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return intake.DuplicateCheck{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return intake.DuplicateCheck{}, fmt.Errorf("查重请求失败 (HTTP %d)", resp.StatusCode)
	}
	var env apiEnvelope[intake.DuplicateCheck]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return intake.DuplicateCheck{}, fmt.Errorf("解析查重响应失败: %w", err)
	}
	return env.Data, nil
}
