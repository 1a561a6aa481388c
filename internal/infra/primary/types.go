package primary

// Wire structs for the Matba Rofex / Primary REST and websocket APIs.
// Prices come as float64 in the venue's raw scale; scaling to display
// prices happens in the service layer, not here.

type apiStatus struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type instrumentsResponse struct {
	apiStatus
	Instruments []struct {
		InstrumentID struct {
			MarketID string `json:"marketId"`
			Symbol   string `json:"symbol"`
		} `json:"instrumentId"`
		CFICode  string `json:"cficode"`
		Currency string `json:"currency"`
	} `json:"instruments"`
}

type entry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type marketDataPayload struct {
	Bids   []entry  `json:"BI"`
	Offers []entry  `json:"OF"`
	Last   *entry   `json:"LA"`
	High   *float64 `json:"HI"`
	Low    *float64 `json:"LO"`
	Volume *entry   `json:"TV"`
}

type marketDataResponse struct {
	apiStatus
	MarketData marketDataPayload `json:"marketData"`
}

type orderResponse struct {
	apiStatus
	Order struct {
		ClientID    string `json:"clientId"`
		Proprietary string `json:"proprietary"`
	} `json:"order"`
}

type orderStatusResponse struct {
	apiStatus
	Order struct {
		ClientOrderID string  `json:"clOrdId"`
		Status        string  `json:"status"`
		Side          string  `json:"side"`
		CumQty        float64 `json:"cumQty"`
		LeavesQty     float64 `json:"leavesQty"`
		AvgPx         float64 `json:"avgPx"`
		Text          string  `json:"text"`
		InstrumentID  struct {
			Symbol string `json:"symbol"`
		} `json:"instrumentId"`
	} `json:"order"`
}

// Websocket messages.

type wsSubscribeMD struct {
	Type     string      `json:"type"` // "smd"
	Level    int         `json:"level"`
	Depth    int         `json:"depth"`
	Entries  []string    `json:"entries"`
	Products []wsProduct `json:"products"`
}

type wsProduct struct {
	Symbol   string `json:"symbol"`
	MarketID string `json:"marketId"`
}

type wsSubscribeOrders struct {
	Type    string `json:"type"` // "os"
	Account struct {
		ID string `json:"id"`
	} `json:"account"`
	SnapshotOnlyActive bool `json:"snapshotOnlyActive"`
}

type wsInbound struct {
	Type         string `json:"type"` // "Md", "or", "error"
	Timestamp    int64  `json:"timestamp"`
	InstrumentID struct {
		Symbol string `json:"symbol"`
	} `json:"instrumentId"`
	MarketData  marketDataPayload `json:"marketData"`
	OrderReport struct {
		ClientOrderID string  `json:"clOrdId"`
		Status        string  `json:"status"`
		Side          string  `json:"side"`
		CumQty        float64 `json:"cumQty"`
		LeavesQty     float64 `json:"leavesQty"`
		AvgPx         float64 `json:"avgPx"`
		Text          string  `json:"text"`
		InstrumentID  struct {
			Symbol string `json:"symbol"`
		} `json:"instrumentId"`
	} `json:"orderReport"`
	Description string `json:"description"`
}
