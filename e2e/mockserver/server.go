// Package mockserver provides a mock Binance spot REST server for testing.
// It implements the endpoints the exchange gateway talks to, backed by an
// in-memory account: market orders fill immediately at the current price,
// limit orders rest until a test fills them through FillOrder.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// OrderStatus is the Binance order status vocabulary.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Balance represents an account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Order is the server's record of one order.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         float64
	Status        OrderStatus
	TimeInForce   string
	CreatedAt     time.Time
	ExecutedQty   float64
	QuoteQty      float64
}

// SymbolInfo represents symbol trading information.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
}

// ServerConfig holds configuration for the mock server.
type ServerConfig struct {
	// InitialBalances maps asset to initial free balance
	InitialBalances map[string]float64
	// InitialPrices maps symbol to starting price
	InitialPrices map[string]float64
	// FeeRate is the taker commission applied to fills (e.g. 0.001)
	FeeRate float64
	// DepthLevels is how many synthetic book levels each side carries
	DepthLevels int
}

// MockExchangeServer is a mock Binance spot REST server.
type MockExchangeServer struct {
	mu sync.RWMutex

	httpServer *http.Server
	listener   net.Listener

	balances   map[string]*Balance
	orders     map[int64]*Order
	orderIDSeq int64
	symbolInfo map[string]*SymbolInfo

	prices map[string]float64
	// depthSkew shifts synthetic book volume toward bids (+) or asks (-),
	// in [-1, 1]
	depthSkew   map[string]float64
	feeRate     float64
	depthLevels int
}

// NewMockExchangeServer creates a new mock exchange server.
func NewMockExchangeServer(config ServerConfig) *MockExchangeServer {
	server := &MockExchangeServer{
		mu:          sync.RWMutex{},
		httpServer:  nil,
		listener:    nil,
		balances:    make(map[string]*Balance),
		orders:      make(map[int64]*Order),
		orderIDSeq:  1000,
		symbolInfo:  make(map[string]*SymbolInfo),
		prices:      make(map[string]float64),
		depthSkew:   make(map[string]float64),
		feeRate:     config.FeeRate,
		depthLevels: config.DepthLevels,
	}

	for asset, amount := range config.InitialBalances {
		server.balances[asset] = &Balance{Asset: asset, Free: amount, Locked: 0}
	}

	for symbol, price := range config.InitialPrices {
		server.prices[symbol] = price
		server.initSymbolInfo(symbol)
	}

	if server.feeRate == 0 {
		server.feeRate = 0.001
	}

	if server.depthLevels == 0 {
		server.depthLevels = 20
	}

	return server
}

// initSymbolInfo derives base and quote assets from the symbol name.
func (s *MockExchangeServer) initSymbolInfo(symbol string) {
	quoteAssets := []string{"USDT", "BUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(symbol, quote) {
			s.symbolInfo[symbol] = &SymbolInfo{
				Symbol:     symbol,
				BaseAsset:  strings.TrimSuffix(symbol, quote),
				QuoteAsset: quote,
			}

			return
		}
	}

	s.symbolInfo[symbol] = &SymbolInfo{
		Symbol:     symbol,
		BaseAsset:  symbol[:len(symbol)/2],
		QuoteAsset: symbol[len(symbol)/2:],
	}
}

// Start starts the mock server on the given address.
// If address is empty or ":0", a random available port is used.
func (s *MockExchangeServer) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	router := mux.NewRouter()

	router.HandleFunc("/api/v3/ticker/24hr", s.handleTicker24h).Methods("GET")
	router.HandleFunc("/api/v3/depth", s.handleDepth).Methods("GET")
	router.HandleFunc("/api/v3/account", s.handleAccount).Methods("GET")
	router.HandleFunc("/api/v3/order", s.handleCreateOrder).Methods("POST")
	router.HandleFunc("/api/v3/order", s.handleGetOrder).Methods("GET")
	router.HandleFunc("/api/v3/order", s.handleCancelOrder).Methods("DELETE")
	router.HandleFunc("/api/v3/openOrders", s.handleOpenOrders).Methods("GET")
	router.HandleFunc("/api/v3/allOrders", s.handleAllOrders).Methods("GET")

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != http.ErrServerClosed {
			fmt.Printf("mock server error: %v\n", serveErr)
		}
	}()

	return nil
}

// Stop stops the mock server.
func (s *MockExchangeServer) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// Address returns the address the server is listening on.
func (s *MockExchangeServer) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the base URL for the server.
func (s *MockExchangeServer) BaseURL() string {
	return "http://" + s.Address()
}

// Test control surface

// SetPrice sets the current price for a symbol.
func (s *MockExchangeServer) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// GetPrice returns the current price for a symbol.
func (s *MockExchangeServer) GetPrice(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.prices[symbol]
}

// SetDepthSkew shifts the synthetic order book volume: positive values
// pile volume on the bid side, negative on the ask side.
func (s *MockExchangeServer) SetDepthSkew(symbol string, skew float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depthSkew[symbol] = skew
}

// GetBalance returns a copy of the balance for an asset, or nil.
func (s *MockExchangeServer) GetBalance(asset string) *Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bal, ok := s.balances[asset]; ok {
		copied := *bal

		return &copied
	}

	return nil
}

// SetBalance sets the balance for an asset.
func (s *MockExchangeServer) SetBalance(asset string, free, locked float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = &Balance{Asset: asset, Free: free, Locked: locked}
}

// GetOrder returns a copy of an order by ID, or nil.
func (s *MockExchangeServer) GetOrder(orderID int64) *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if order, ok := s.orders[orderID]; ok {
		copied := *order

		return &copied
	}

	return nil
}

// OpenOrderCount returns how many orders are resting.
func (s *MockExchangeServer) OpenOrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0

	for _, order := range s.orders {
		if order.Status == OrderStatusNew || order.Status == OrderStatusPartiallyFilled {
			count++
		}
	}

	return count
}

// FillOrder fills a resting limit order at its limit price, settling
// balances. Returns false if the order is unknown or not resting.
func (s *MockExchangeServer) FillOrder(orderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || (order.Status != OrderStatusNew && order.Status != OrderStatusPartiallyFilled) {
		return false
	}

	info := s.symbolInfo[order.Symbol]
	if info == nil {
		return false
	}

	s.settleLocked(order, info, order.Price)
	order.Status = OrderStatusFilled
	order.ExecutedQty = order.Quantity
	order.QuoteQty = order.Price * order.Quantity

	return true
}

// settleLocked moves balances for a fill at the given price. The locked
// funds of resting limit orders were reserved at placement.
func (s *MockExchangeServer) settleLocked(order *Order, info *SymbolInfo, price float64) {
	cost := price * order.Quantity

	if order.Side == "BUY" {
		quote := s.ensureBalanceLocked(info.QuoteAsset)
		if order.Type == "LIMIT" {
			quote.Locked -= cost
		} else {
			quote.Free -= cost
		}

		base := s.ensureBalanceLocked(info.BaseAsset)
		base.Free += order.Quantity

		return
	}

	base := s.ensureBalanceLocked(info.BaseAsset)
	if order.Type == "LIMIT" {
		base.Locked -= order.Quantity
	} else {
		base.Free -= order.Quantity
	}

	quote := s.ensureBalanceLocked(info.QuoteAsset)
	quote.Free += cost * (1 - s.feeRate)
}

func (s *MockExchangeServer) ensureBalanceLocked(asset string) *Balance {
	bal, ok := s.balances[asset]
	if !ok {
		bal = &Balance{Asset: asset, Free: 0, Locked: 0}
		s.balances[asset] = bal
	}

	return bal
}

// requestParams merges query string and form body parameters. The Binance
// client sends signed POST and DELETE parameters in the body.
func requestParams(r *http.Request) url.Values {
	params := r.URL.Query()

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return params
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return params
	}

	for key, values := range form {
		for _, value := range values {
			params.Add(key, value)
		}
	}

	return params
}

// REST API Handlers

// handleTicker24h handles GET /api/v3/ticker/24hr. With a symbol parameter
// Binance returns a single object, without one an array.
func (s *MockExchangeServer) handleTicker24h(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol := r.URL.Query().Get("symbol")

	stats := func(sym string, price float64) map[string]interface{} {
		return map[string]interface{}{
			"symbol":    sym,
			"bidPrice":  strconv.FormatFloat(price*0.9995, 'f', 8, 64),
			"askPrice":  strconv.FormatFloat(price*1.0005, 'f', 8, 64),
			"lastPrice": strconv.FormatFloat(price, 'f', 8, 64),
			"volume":    "1000.00000000",
			"openTime":  time.Now().Add(-24 * time.Hour).UnixMilli(),
			"closeTime": time.Now().UnixMilli(),
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if symbol != "" {
		price, ok := s.prices[symbol]
		if !ok {
			writeAPIError(w, -1121, "Invalid symbol.")

			return
		}

		json.NewEncoder(w).Encode(stats(symbol, price))

		return
	}

	all := make([]map[string]interface{}, 0, len(s.prices))
	for sym, price := range s.prices {
		all = append(all, stats(sym, price))
	}

	json.NewEncoder(w).Encode(all)
}

// handleDepth handles GET /api/v3/depth with a synthetic book around the
// current price, skewed per SetDepthSkew.
func (s *MockExchangeServer) handleDepth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol := r.URL.Query().Get("symbol")

	price, ok := s.prices[symbol]
	if !ok {
		writeAPIError(w, -1121, "Invalid symbol.")

		return
	}

	levels := s.depthLevels

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < levels {
			levels = limit
		}
	}

	skew := s.depthSkew[symbol]
	bidVolume := 5.0 * (1 + skew)
	askVolume := 5.0 * (1 - skew)

	bids := make([][]string, 0, levels)
	asks := make([][]string, 0, levels)

	for i := 0; i < levels; i++ {
		step := float64(i+1) * 0.0005
		bids = append(bids, []string{
			strconv.FormatFloat(price*(1-step), 'f', 8, 64),
			strconv.FormatFloat(bidVolume, 'f', 8, 64),
		})
		asks = append(asks, []string{
			strconv.FormatFloat(price*(1+step), 'f', 8, 64),
			strconv.FormatFloat(askVolume, 'f', 8, 64),
		})
	}

	response := map[string]interface{}{
		"lastUpdateId": time.Now().UnixNano(),
		"bids":         bids,
		"asks":         asks,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAccount handles GET /api/v3/account.
func (s *MockExchangeServer) handleAccount(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make([]map[string]string, 0, len(s.balances))
	for _, bal := range s.balances {
		balances = append(balances, map[string]string{
			"asset":  bal.Asset,
			"free":   strconv.FormatFloat(bal.Free, 'f', 8, 64),
			"locked": strconv.FormatFloat(bal.Locked, 'f', 8, 64),
		})
	}

	response := map[string]interface{}{
		"makerCommission":  10,
		"takerCommission":  10,
		"buyerCommission":  0,
		"sellerCommission": 0,
		"canTrade":         true,
		"canWithdraw":      true,
		"canDeposit":       true,
		"updateTime":       time.Now().UnixMilli(),
		"accountType":      "SPOT",
		"balances":         balances,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCreateOrder handles POST /api/v3/order. Market orders fill at the
// current price; limit orders rest and reserve funds.
func (s *MockExchangeServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)

	symbol := params.Get("symbol")
	side := params.Get("side")
	orderType := params.Get("type")
	quantityStr := params.Get("quantity")
	priceStr := params.Get("price")
	timeInForce := params.Get("timeInForce")
	clientOrderID := params.Get("newClientOrderId")

	if symbol == "" || side == "" || orderType == "" || quantityStr == "" {
		writeAPIError(w, -1102, "Mandatory parameter was not sent.")

		return
	}

	quantity, err := strconv.ParseFloat(quantityStr, 64)
	if err != nil || quantity <= 0 {
		writeAPIError(w, -1013, "Invalid quantity.")

		return
	}

	var price float64
	if priceStr != "" {
		price, err = strconv.ParseFloat(priceStr, 64)
		if err != nil {
			writeAPIError(w, -1013, "Invalid price.")

			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.symbolInfo[symbol]
	if !ok {
		writeAPIError(w, -1121, "Invalid symbol.")

		return
	}

	execPrice := price

	if orderType == "MARKET" {
		current, hasPrice := s.prices[symbol]
		if !hasPrice {
			writeAPIError(w, -1121, "Invalid symbol.")

			return
		}

		execPrice = current
	}

	// reserve or reject against free balances
	if side == "BUY" {
		cost := execPrice * quantity

		quote := s.balances[info.QuoteAsset]
		if quote == nil || quote.Free < cost {
			writeAPIError(w, -2010, "Account has insufficient balance for requested action.")

			return
		}

		if orderType == "LIMIT" {
			quote.Free -= cost
			quote.Locked += cost
		}
	} else {
		base := s.balances[info.BaseAsset]
		if base == nil || base.Free < quantity {
			writeAPIError(w, -2010, "Account has insufficient balance for requested action.")

			return
		}

		if orderType == "LIMIT" {
			base.Free -= quantity
			base.Locked += quantity
		}
	}

	s.orderIDSeq++
	order := &Order{
		OrderID:       s.orderIDSeq,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Quantity:      quantity,
		Price:         price,
		Status:        OrderStatusNew,
		TimeInForce:   timeInForce,
		CreatedAt:     time.Now(),
		ExecutedQty:   0,
		QuoteQty:      0,
	}

	fills := make([]map[string]interface{}, 0, 1)

	if orderType == "MARKET" {
		s.settleLocked(order, info, execPrice)
		order.Status = OrderStatusFilled
		order.ExecutedQty = quantity
		order.QuoteQty = execPrice * quantity

		commissionAsset := info.QuoteAsset
		commission := order.QuoteQty * s.feeRate

		if side == "BUY" {
			commissionAsset = info.BaseAsset
			commission = quantity * s.feeRate
		}

		fills = append(fills, map[string]interface{}{
			"price":           strconv.FormatFloat(execPrice, 'f', 8, 64),
			"qty":             strconv.FormatFloat(quantity, 'f', 8, 64),
			"commission":      strconv.FormatFloat(commission, 'f', 8, 64),
			"commissionAsset": commissionAsset,
		})
	}

	s.orders[order.OrderID] = order

	response := map[string]interface{}{
		"symbol":              symbol,
		"orderId":             order.OrderID,
		"orderListId":         -1,
		"clientOrderId":       order.ClientOrderID,
		"transactTime":        time.Now().UnixMilli(),
		"price":               strconv.FormatFloat(price, 'f', 8, 64),
		"origQty":             strconv.FormatFloat(quantity, 'f', 8, 64),
		"executedQty":         strconv.FormatFloat(order.ExecutedQty, 'f', 8, 64),
		"cummulativeQuoteQty": strconv.FormatFloat(order.QuoteQty, 'f', 8, 64),
		"status":              string(order.Status),
		"timeInForce":         timeInForce,
		"type":                orderType,
		"side":                side,
		"fills":               fills,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetOrder handles GET /api/v3/order.
func (s *MockExchangeServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)
	symbol := params.Get("symbol")
	orderIDStr := params.Get("orderId")

	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil {
		writeAPIError(w, -1102, "Mandatory parameter was not sent.")

		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok || order.Symbol != symbol {
		writeAPIError(w, -2013, "Order does not exist.")

		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orderJSON(order))
}

// handleCancelOrder handles DELETE /api/v3/order.
func (s *MockExchangeServer) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)
	symbol := params.Get("symbol")
	orderIDStr := params.Get("orderId")

	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil {
		writeAPIError(w, -1102, "Mandatory parameter was not sent.")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.Symbol != symbol {
		writeAPIError(w, -2011, "Unknown order sent.")

		return
	}

	if order.Status != OrderStatusNew && order.Status != OrderStatusPartiallyFilled {
		writeAPIError(w, -2011, "Unknown order sent.")

		return
	}

	// release reserved funds
	info := s.symbolInfo[order.Symbol]
	if info != nil && order.Type == "LIMIT" {
		if order.Side == "BUY" {
			quote := s.ensureBalanceLocked(info.QuoteAsset)
			reserved := order.Price * order.Quantity
			quote.Locked -= reserved
			quote.Free += reserved
		} else {
			base := s.ensureBalanceLocked(info.BaseAsset)
			base.Locked -= order.Quantity
			base.Free += order.Quantity
		}
	}

	order.Status = OrderStatusCanceled

	response := map[string]interface{}{
		"symbol":              symbol,
		"orderId":             order.OrderID,
		"origClientOrderId":   order.ClientOrderID,
		"clientOrderId":       order.ClientOrderID,
		"price":               strconv.FormatFloat(order.Price, 'f', 8, 64),
		"origQty":             strconv.FormatFloat(order.Quantity, 'f', 8, 64),
		"executedQty":         strconv.FormatFloat(order.ExecutedQty, 'f', 8, 64),
		"cummulativeQuoteQty": strconv.FormatFloat(order.QuoteQty, 'f', 8, 64),
		"status":              string(order.Status),
		"timeInForce":         order.TimeInForce,
		"type":                order.Type,
		"side":                order.Side,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleOpenOrders handles GET /api/v3/openOrders.
func (s *MockExchangeServer) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol := r.URL.Query().Get("symbol")

	openOrders := make([]map[string]interface{}, 0)

	for _, order := range s.orders {
		if symbol != "" && order.Symbol != symbol {
			continue
		}

		if order.Status == OrderStatusNew || order.Status == OrderStatusPartiallyFilled {
			openOrders = append(openOrders, orderJSON(order))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openOrders)
}

// handleAllOrders handles GET /api/v3/allOrders.
func (s *MockExchangeServer) handleAllOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeAPIError(w, -1102, "Mandatory parameter was not sent.")

		return
	}

	all := make([]map[string]interface{}, 0)

	for _, order := range s.orders {
		if order.Symbol == symbol {
			all = append(all, orderJSON(order))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(all)
}

// orderJSON renders an order in the Binance order shape.
func orderJSON(order *Order) map[string]interface{} {
	return map[string]interface{}{
		"symbol":              order.Symbol,
		"orderId":             order.OrderID,
		"orderListId":         -1,
		"clientOrderId":       order.ClientOrderID,
		"price":               strconv.FormatFloat(order.Price, 'f', 8, 64),
		"origQty":             strconv.FormatFloat(order.Quantity, 'f', 8, 64),
		"executedQty":         strconv.FormatFloat(order.ExecutedQty, 'f', 8, 64),
		"cummulativeQuoteQty": strconv.FormatFloat(order.QuoteQty, 'f', 8, 64),
		"status":              string(order.Status),
		"timeInForce":         order.TimeInForce,
		"type":                order.Type,
		"side":                order.Side,
		"stopPrice":           "0.00000000",
		"icebergQty":          "0.00000000",
		"time":                order.CreatedAt.UnixMilli(),
		"updateTime":          order.CreatedAt.UnixMilli(),
		"isWorking":           true,
		"origQuoteOrderQty":   "0.00000000",
	}
}

// writeAPIError writes a Binance-style error body with HTTP 400.
func writeAPIError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code": code,
		"msg":  message,
	})
}
