package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/monetize-consult/server/internal/extract"
)

const (
	maxUploadBytes = 10 << 20
	maxJSONBytes   = 1 << 20
)

// inputError is a request problem reported to the client as-is.
type inputError struct {
	status int
	msg    string
}

func (e *inputError) Error() string { return e.msg }

func badRequest(msg string) *inputError {
	return &inputError{status: http.StatusBadRequest, msg: msg}
}

var errTooLarge = &inputError{status: http.StatusRequestEntityTooLarge, msg: "ファイルサイズが大きすぎます（10MBまで）"}

// planInput is the evaluation body after extraction, cut to size.
type planInput struct {
	text      string
	truncated bool
}

// readPlan accepts either a multipart form with a file or text field, or a
// JSON body {"text": "..."}.
func readPlan(w http.ResponseWriter, r *http.Request) (planInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		text string
		err  error
	)
	if mediaType == "multipart/form-data" {
		text, err = readPlanForm(w, r)
	} else {
		text, err = readPlanJSON(w, r)
	}
	if err != nil {
		return planInput{}, err
	}
	cut, truncated := extract.Truncate(text)
	return planInput{text: cut, truncated: truncated}, nil
}

func readPlanForm(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+maxJSONBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", errTooLarge
		}
		return "", badRequest("フォームの読み込みに失敗しました")
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		if header.Size > maxUploadBytes {
			return "", errTooLarge
		}
		data, err := io.ReadAll(file)
		if err != nil {
			return "", badRequest("ファイルの読み込みに失敗しました")
		}
		text, err := extract.Text(header.Filename, data)
		switch {
		case err == nil:
			return text, nil
		case errors.Is(err, extract.ErrUnsupported):
			return "", badRequest(err.Error())
		case errors.Is(err, extract.ErrEmpty):
			return "", badRequest("ファイルからテキストを抽出できませんでした")
		default:
			return "", badRequest("ファイルの読み込みに失敗しました")
		}
	}

	if text := strings.TrimSpace(r.FormValue("text")); text != "" {
		return text, nil
	}
	return "", badRequest("ファイルまたはテキストを入力してください")
}

func readPlanJSON(w http.ResponseWriter, r *http.Request) (string, error) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return "", err
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return "", badRequest("事業計画のテキストを入力してください")
	}
	return text, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &inputError{status: http.StatusRequestEntityTooLarge, msg: "Request body too large"}
		}
		return badRequest("Invalid request body")
	}
	return nil
}

func writeInputError(w http.ResponseWriter, err error) {
	var ie *inputError
	if errors.As(err, &ie) {
		writeError(w, ie.status, ie.msg)
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body")
}
