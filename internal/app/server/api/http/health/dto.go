package health

type Input struct{}

// Output 200 или 503, если база недоступна
type Output struct {
	Status int
	Body   Response
}

type Response struct {
	Status      string `json:"status" example:"OK" doc:"Health status of the service"`
	Database    string `json:"database" example:"up" doc:"Database reachability"`
	Subscribers int    `json:"subscribers" doc:"Connected realtime subscribers"`
}
