package testutil

import "encoding/json"

// SampleProviderARequest returns a valid Provider-A chat-completions request body.
func SampleProviderARequest(systemPrompt, userInput string) []byte {
	req := map[string]interface{}{
		"model": "provider-a",
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userInput},
		},
		"temperature": 0.7,
		"max_tokens":  2048,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleProviderAResponse returns a valid Provider-A chat-completions response body.
func SampleProviderAResponse(content string) []byte {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	data, _ := json.Marshal(resp)
	return data
}

// SampleProviderBRequest returns a valid Provider-B chat-completions request body.
func SampleProviderBRequest(systemPrompt, userInput string) []byte {
	return SampleProviderARequest(systemPrompt, userInput)
}

// SampleProviderBResponse returns a valid Provider-B chat-completions response body.
func SampleProviderBResponse(content string) []byte {
	return SampleProviderAResponse(content)
}

// SampleProcessRequest returns a valid /process request body.
func SampleProcessRequest(userInput, analysisType string) []byte {
	req := map[string]interface{}{
		"user_input":    userInput,
		"analysis_type": analysisType,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleAnalyzeAsyncRequest returns a valid /analyze-async submission body.
func SampleAnalyzeAsyncRequest(userInput string) []byte {
	req := map[string]interface{}{"user_input": userInput}
	data, _ := json.Marshal(req)
	return data
}
