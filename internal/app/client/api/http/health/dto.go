package health

type Input struct{}

type Output struct {
	Body Response
}

type Response struct {
	Status  string `json:"status" example:"OK" doc:"Health status of the sync daemon"`
	Syncing bool   `json:"syncing" doc:"A sync cycle is running"`
}
