// Package openaicompat provides the adapter for OpenAI Chat Completions
// compatible upstreams (OpenAI itself, DeepSeek and similar services).
//
// One Provider serves text generation, image understanding (image parts are
// sent as image_url content parts) and text embeddings. Streaming requests ask
// for stream_options.include_usage; when an upstream ignores it the adapter
// estimates usage locally and marks it Estimated.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName:  "deepseek",
//	    APIKey:        cfg.APIKey,
//	    BaseURL:       "https://api.deepseek.com",
//	    EndpointPath:  "/chat/completions",
//	    FallbackModel: "deepseek-chat",
//	}, logger)
package openaicompat
