package vectorstore

import "strings"

// SplitText cuts content into chunks of roughly chunkSize characters with
// overlapSize characters shared between neighbours. With splitByChar the cut
// points are arbitrary; otherwise the splitter keeps whole sentences together
// where it can.
func SplitText(content string, splitByChar bool, chunkSize, overlapSize int) []string {
	if content == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlapSize < 0 || overlapSize >= chunkSize {
		overlapSize = 0
	}

	if splitByChar {
		return splitByCharacters(content, chunkSize, overlapSize)
	}
	return splitBySentences(content, chunkSize, overlapSize)
}

func splitByCharacters(content string, chunkSize, overlapSize int) []string {
	runes := []rune(content)
	step := chunkSize - overlapSize

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func splitBySentences(content string, chunkSize, overlapSize int) []string {
	sentences := splitSentences(content)

	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence) > chunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		// Oversized single sentences fall back to character splitting.
		if len(sentence) > chunkSize {
			chunks = append(chunks, splitByCharacters(sentence, chunkSize, overlapSize)...)
			continue
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func splitSentences(content string) []string {
	var sentences []string
	start := 0
	for i, r := range content {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			sentence := content[start : i+1]
			if strings.TrimSpace(sentence) != "" {
				sentences = append(sentences, sentence)
			}
			start = i + 1
		}
	}
	if start < len(content) && strings.TrimSpace(content[start:]) != "" {
		sentences = append(sentences, content[start:])
	}
	return sentences
}
