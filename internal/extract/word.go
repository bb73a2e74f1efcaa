package extract

import (
	"fmt"
	"os"

	"code.sajari.com/docconv"
)

// WordText extracts the text content of a .doc/.docx file on disk.
func WordText(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open word document: %w", err)
	}
	defer file.Close()

	text, _, err := docconv.ConvertDocx(file)
	if err != nil {
		return "", fmt.Errorf("failed to extract word document text: %w", err)
	}
	return text, nil
}
