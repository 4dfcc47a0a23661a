package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

const report_resty_dump = "resty.dump"

// DumpResty writes every response client receives into dir as a numbered
// text file holding the request and the response. dir is cleared first.
func DumpResty(client *resty.Client, tel API, dir string) error {
	err := os.RemoveAll(dir)
	if err != nil {
		return err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return err
	}

	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := atomic.AddUint64(&counter, 1)
		name := fmt.Sprintf("%04d-%s.txt", id, dumpName(res.Request.URL))
		err := os.WriteFile(filepath.Join(dir, name), []byte(formatHttpMessage(res)), 0600)
		if err != nil {
			tel.ReportWarning(report_resty_dump, name, err)
		}
		return nil
	})
	return nil
}

func dumpName(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	url = strings.Trim(url, "/")
	return strings.NewReplacer("/", "_", ":", "_").Replace(url)
}
