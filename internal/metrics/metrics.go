package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// A very small in-process metrics registry that exports Prometheus-like text.
// It supports counters and simple summaries (count/sum), with labeled samples.

type labelsKey string

func makeKey(lbls map[string]string) labelsKey {
	if len(lbls) == 0 {
		return labelsKey("")
	}
	keys := make([]string, 0, len(lbls))
	for k := range lbls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		v := strings.ReplaceAll(lbls[k], "\"", "\\\"")
		b.WriteString("\"")
		b.WriteString(v)
		b.WriteString("\"")
	}
	return labelsKey(b.String())
}

type CounterVec struct {
	Name       string
	Help       string
	mu         sync.RWMutex
	labelNames []string
	values     map[labelsKey]float64
}

func NewCounterVec(name, help string, labelNames ...string) *CounterVec {
	return &CounterVec{Name: name, Help: help, labelNames: labelNames, values: make(map[labelsKey]float64)}
}

func (cv *CounterVec) Inc(lbls map[string]string) {
	cv.Add(lbls, 1)
}

func (cv *CounterVec) Add(lbls map[string]string, v float64) {
	key := makeKey(lbls)
	cv.mu.Lock()
	cv.values[key] += v
	cv.mu.Unlock()
}

// Value returns the current value for the given labels.
func (cv *CounterVec) Value(lbls map[string]string) float64 {
	key := makeKey(lbls)
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.values[key]
}

// SummaryVec stores count and sum; we export metric_count and metric_sum.
type SummaryVec struct {
	Name       string
	Help       string
	mu         sync.RWMutex
	labelNames []string
	count      map[labelsKey]float64
	sum        map[labelsKey]float64
}

func NewSummaryVec(name, help string, labelNames ...string) *SummaryVec {
	return &SummaryVec{Name: name, Help: help, labelNames: labelNames, count: make(map[labelsKey]float64), sum: make(map[labelsKey]float64)}
}

func (sv *SummaryVec) Observe(lbls map[string]string, v float64) {
	key := makeKey(lbls)
	sv.mu.Lock()
	sv.count[key] += 1
	sv.sum[key] += v
	sv.mu.Unlock()
}

// Count returns how many observations were recorded for the given labels.
func (sv *SummaryVec) Count(lbls map[string]string) float64 {
	key := makeKey(lbls)
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.count[key]
}

var (
	HTTPRequests = NewCounterVec("termai_http_requests_total", "Total HTTP requests", "method", "path", "status")
	HTTPDuration = NewSummaryVec("termai_http_request_seconds", "HTTP request duration seconds", "method", "path", "status")

	LLMPings   = NewCounterVec("termai_llm_pings_total", "LLM Ping calls", "provider", "outcome") // outcome=ok|error
	LLMChats   = NewCounterVec("termai_llm_chats_total", "LLM blocking chat calls", "provider", "outcome")
	LLMChatDur = NewSummaryVec("termai_llm_chat_seconds", "LLM chat duration seconds", "provider", "outcome")
	LLMStreams = NewCounterVec("termai_llm_streams_total", "LLM streaming calls by terminal outcome", "provider", "outcome") // outcome=done|error|cancelled

	StreamChunks   = NewCounterVec("termai_stream_chunks_total", "Decoded content chunks", "provider")
	DecoderMisuse  = NewCounterVec("termai_decoder_misuse_total", "Bytes fed to a decoder after its terminal chunk", "decoder")
	HandoffSent    = NewCounterVec("termai_handoff_messages_total", "Chunks handed to the consumer", "result") // result=sent|dropped
	DispatchFailed = NewCounterVec("termai_dispatch_failures_total", "Chunks freed by the dispatcher", "reason")
	AllocFailures  = NewCounterVec("termai_chunk_alloc_failures_total", "Chunk allocation failures", "stage") // stage=fragment|terminal

	Redactions = NewCounterVec("termai_redactions_total", "Secrets redacted from outbound text", "kind")
)

// ServeHTTP exposes all metrics in Prometheus text format.
func ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	dumpCounter := func(cv *CounterVec) {
		fmt.Fprintf(w, "# HELP %s %s\n", cv.Name, cv.Help)
		fmt.Fprintf(w, "# TYPE %s counter\n", cv.Name)
		cv.mu.RLock()
		for key, val := range cv.values {
			if key == "" {
				fmt.Fprintf(w, "%s %g\n", cv.Name, val)
			} else {
				fmt.Fprintf(w, "%s{%s} %g\n", cv.Name, key, val)
			}
		}
		cv.mu.RUnlock()
	}

	dumpSummary := func(sv *SummaryVec) {
		fmt.Fprintf(w, "# HELP %s %s\n", sv.Name, sv.Help)
		fmt.Fprintf(w, "# TYPE %s summary\n", sv.Name)
		sv.mu.RLock()
		for key, cnt := range sv.count {
			sum := sv.sum[key]
			if key == "" {
				fmt.Fprintf(w, "%s_sum %g\n", sv.Name, sum)
				fmt.Fprintf(w, "%s_count %g\n", sv.Name, cnt)
			} else {
				fmt.Fprintf(w, "%s_sum{%s} %g\n", sv.Name, key, sum)
				fmt.Fprintf(w, "%s_count{%s} %g\n", sv.Name, key, cnt)
			}
		}
		sv.mu.RUnlock()
	}

	dumpCounter(HTTPRequests)
	dumpSummary(HTTPDuration)
	dumpCounter(LLMPings)
	dumpCounter(LLMChats)
	dumpSummary(LLMChatDur)
	dumpCounter(LLMStreams)
	dumpCounter(StreamChunks)
	dumpCounter(DecoderMisuse)
	dumpCounter(HandoffSent)
	dumpCounter(DispatchFailed)
	dumpCounter(AllocFailures)
	dumpCounter(Redactions)
}
