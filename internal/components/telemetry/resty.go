package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

type instrumentResty struct {
	tel       API
	tracer    trace.Tracer
	idcounter *uint64
}

// InstrumentResty reports every request made by client to tel and wraps it
// in a span named after the request method.
func InstrumentResty(client *resty.Client, tel API) {
	var idcounter uint64
	i := instrumentResty{
		tel:       tel,
		tracer:    otel.Tracer("evetrade/resty"),
		idcounter: &idcounter,
	}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id uint64
	// startTime does not need to rely on chrono because it does not depend on the
	// absolute time, just the difference in time.
	startTime time.Time
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	start := time.Now()
	ctx, _ := i.tracer.Start(req.Context(), req.Method)

	id := atomic.AddUint64(i.idcounter, 1)
	ctx = context.WithValue(ctx, reqCtxKey, reqCtx{
		id:        id,
		startTime: start,
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, req.URL)

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	end := time.Now()
	ctx := res.Request.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetName(fmt.Sprintf("http %s", res.Request.Method))
	span.SetAttributes(
		attribute.String("http.url", res.Request.URL),
		attribute.Int("http.status_code", res.StatusCode()),
	)

	rctx, ok := ctx.Value(reqCtxKey).(reqCtx)
	if !ok {
		// the request context was replaced by someone else, the timing is lost
		return nil
	}
	duration := end.Sub(rctx.startTime)

	i.tel.ReportDebug(
		report_resty_response,
		rctx.id,
		duration.String(),
		res.Status(),
	)
	if res.StatusCode() >= 500 {
		span.SetStatus(codes.Error, res.Status())
		i.tel.ReportDebug(report_resty_response, rctx.id, formatHttpMessage(res))
	}

	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	end := time.Now()
	ctx := req.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")

	var duration time.Duration
	rctx, ok := ctx.Value(reqCtxKey).(reqCtx)
	if ok {
		duration = end.Sub(rctx.startTime)
	}

	i.tel.ReportWarning(
		report_resty_response,
		err,
		req.Method,
		req.URL,
		duration,
	)
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		if strings.EqualFold(k, "authorization") {
			out.WriteString(fmt.Sprintf("%s: <redacted>\n", k))
			continue
		}
		for _, v := range headers[k] {
			out.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// requestBody returns the body of a request that can be replayed, GETs and
// other bodyless requests give an empty string.
func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil || body == nil {
		return ""
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %s>", err.Error())
	}
	return string(contents)
}

// formatHttpMessage renders a request and its response as text for debug
// reports and dump files.
func formatHttpMessage(res *resty.Response) string {
	var out strings.Builder
	fmt.Fprintf(&out, "> %s %s\n", res.Request.Method, res.Request.URL)
	if raw := res.Request.RawRequest; raw != nil {
		if headers := formatHeaders(raw.Header); headers != "" {
			out.WriteString(headers)
			out.WriteString("\n")
		}
		if body := requestBody(raw); body != "" {
			out.WriteString("\n")
			out.WriteString(body)
			out.WriteString("\n")
		}
	}
	fmt.Fprintf(&out, "\n< %d\n", res.StatusCode())
	if headers := formatHeaders(res.Header()); headers != "" {
		out.WriteString(headers)
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(res.String())
	return out.String()
}
