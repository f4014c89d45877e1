package gemini

type ImageInput struct {
	DataBase64 string
	MimeType   string
}

type EditOptions struct {
	AspectRatio string
	Temperature float64
}

type Response struct {
	Text   string
	Images []string
}
