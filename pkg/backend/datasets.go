package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// UploadDataset streams one file into a named dataset.
func (c *Client) UploadDataset(ctx context.Context, dataset, filename string, file io.Reader) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	endpoint := c.projectURL("datasets", url.PathEscape(dataset), "upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dataset upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("dataset upload returned status %d: %s", resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}

// ProcessDataset asks the backend to (re)index a dataset. The backend runs
// this asynchronously and returns a task id to poll via TaskStatus.
func (c *Client) ProcessDataset(ctx context.Context, dataset string) (string, error) {
	resp, err := c.postJSON(ctx, c.projectURL("datasets", url.PathEscape(dataset), "process"), map[string]any{})
	if err != nil {
		return "", fmt.Errorf("dataset process failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("dataset process returned status %d: %s", resp.StatusCode, drainBody(resp.Body))
	}

	var payload struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("dataset process: decoding response: %w", err)
	}
	return payload.TaskID, nil
}

// ClearDataset removes every document from a dataset.
func (c *Client) ClearDataset(ctx context.Context, dataset string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.projectURL("datasets", url.PathEscape(dataset), "documents")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dataset clear failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("dataset clear returned status %d: %s", resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}
