package mocks

//go:generate mockgen -destination=./mock_gateway.go -package=mocks github.com/rxtech-lab/argo-spot/internal/exchange Gateway
//go:generate mockgen -destination=./mock_store.go -package=mocks github.com/rxtech-lab/argo-spot/internal/store Store
