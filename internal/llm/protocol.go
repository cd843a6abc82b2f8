package llm

import "net/http"

// protocol is the per-provider wire contract: where to send requests,
// how to authenticate, how to read a blocking reply and which stream
// decoder to use.
type protocol interface {
	chatPath() string
	pingPath() string
	setAuth(h http.Header, apiKey string)
	parseChat(body []byte) (string, error)
	newDecoder() StreamDecoder
}

func protocolFor(p Provider) (protocol, error) {
	switch p {
	case ProviderOpenAI, ProviderCustom:
		return openAIProtocol{provider: p}, nil
	case ProviderAnthropic:
		return anthropicProtocol{}, nil
	case ProviderOllama:
		return ollamaProtocol{}, nil
	default:
		return nil, configError(p, "unknown provider %q", string(p))
	}
}
