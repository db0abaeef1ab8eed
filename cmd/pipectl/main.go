package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "result":
		runResult(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "meetings":
		runMeetings(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "analytics":
		runAnalytics(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipectl <submit|status|result|cancel|meetings|sync|analytics> [...]")
}

func commonFlags(fs *flag.FlagSet) (url, owner *string) {
	url = fs.String("url", envOr("MEETPIPE_URL", "http://127.0.0.1:8080"), "server URL")
	owner = fs.String("owner", envOr("MEETPIPE_OWNER", "default"), "owner id sent as X-Owner-ID")
	return url, owner
}

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	url, owner := commonFlags(fs)
	file := fs.String("file", "", "path to the audio file")
	configJSON := fs.String("config", "", "processing config JSON")
	wait := fs.Bool("wait", false, "poll until the job finishes")
	_ = fs.Parse(args)

	if strings.TrimSpace(*file) == "" {
		fatalf("--file is required")
	}
	f, err := os.Open(*file)
	if err != nil {
		fatalf("open audio: %v", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(*file))
	if err != nil {
		fatalf("build request: %v", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		fatalf("read audio: %v", err)
	}
	if strings.TrimSpace(*configJSON) != "" {
		if err := mw.WriteField("config", *configJSON); err != nil {
			fatalf("build request: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		fatalf("build request: %v", err)
	}

	body := do(http.MethodPost, *url+"/v1/jobs", *owner, &buf, mw.FormDataContentType())
	fmt.Println(body)

	if *wait {
		jobID := extractField(body, "job_id")
		if jobID == "" {
			fatalf("no job_id in response")
		}
		for {
			time.Sleep(2 * time.Second)
			status := do(http.MethodGet, *url+"/v1/jobs/"+jobID+"/status", *owner, nil, "")
			fmt.Println(status)
			if strings.Contains(status, `"status":"completed"`) || strings.Contains(status, `"status":"failed"`) {
				return
			}
		}
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url, owner := commonFlags(fs)
	_ = fs.Parse(args)
	jobID := requireArg(fs, "job id")
	fmt.Println(do(http.MethodGet, *url+"/v1/jobs/"+jobID+"/status", *owner, nil, ""))
}

func runResult(args []string) {
	fs := flag.NewFlagSet("result", flag.ExitOnError)
	url, owner := commonFlags(fs)
	_ = fs.Parse(args)
	jobID := requireArg(fs, "job id")
	fmt.Println(do(http.MethodGet, *url+"/v1/jobs/"+jobID+"/result", *owner, nil, ""))
}

func runCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	url, owner := commonFlags(fs)
	_ = fs.Parse(args)
	jobID := requireArg(fs, "job id")
	fmt.Println(do(http.MethodPost, *url+"/v1/jobs/"+jobID+"/cancel", *owner, nil, ""))
}

func runMeetings(args []string) {
	fs := flag.NewFlagSet("meetings", flag.ExitOnError)
	url, owner := commonFlags(fs)
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(args)
	target := fmt.Sprintf("%s/v1/meetings?limit=%d&offset=%d", *url, *limit, *offset)
	fmt.Println(do(http.MethodGet, target, *owner, nil, ""))
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	url, owner := commonFlags(fs)
	_ = fs.Parse(args)
	jobID := requireArg(fs, "job id")
	fmt.Println(do(http.MethodPost, *url+"/v1/meetings/"+jobID+"/sync-calendar", *owner, nil, ""))
}

func runAnalytics(args []string) {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	url, owner := commonFlags(fs)
	export := fs.String("export", "", "write an xlsx export to this path instead")
	_ = fs.Parse(args)

	if strings.TrimSpace(*export) != "" {
		resp, err := request(http.MethodGet, *url+"/v1/analytics/export", *owner, nil, "")
		if err != nil {
			fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			fatalf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		out, err := os.Create(*export)
		if err != nil {
			fatalf("create export file: %v", err)
		}
		defer out.Close()
		if _, err := io.Copy(out, resp.Body); err != nil {
			fatalf("write export: %v", err)
		}
		fmt.Println("wrote", *export)
		return
	}
	fmt.Println(do(http.MethodGet, *url+"/v1/analytics", *owner, nil, ""))
}

func requireArg(fs *flag.FlagSet, what string) string {
	if fs.NArg() < 1 {
		fatalf("%s argument is required", what)
	}
	return fs.Arg(0)
}

func do(method, target, owner string, body io.Reader, contentType string) string {
	resp, err := request(method, target, owner, body, contentType)
	if err != nil {
		fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read response: %v", err)
	}
	out := strings.TrimSpace(string(data))
	if resp.StatusCode >= 400 {
		fatalf("server returned %d: %s", resp.StatusCode, out)
	}
	return out
}

func request(method, target, owner string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	return client.Do(req)
}

// extractField pulls a top-level string field out of a small JSON body
// without a full decode round-trip.
func extractField(body, field string) string {
	marker := `"` + field + `":"`
	i := strings.Index(body, marker)
	if i < 0 {
		return ""
	}
	rest := body[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
