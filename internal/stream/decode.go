package stream

import (
	"encoding/json"
	"strconv"
	"time"

	"crypto-streamv1/internal/model"
)

// rawKline is the exchange wire form of one kline update. Prices come
// as strings and timestamps as epoch milliseconds.
//
// encoding/json matches keys case-insensitively when no exact tag
// exists, so every uppercase key the exchange sends next to a
// lowercase field needs its own field: "E" vs "e", "T" vs "t", "L" vs
// "l" and "V" vs "v" would otherwise collide and either fail the
// unmarshal or clobber the wrong field.
type rawKline struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime    int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Symbol      string `json:"s"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		Close       string `json:"c"`
		High        string `json:"h"`
		Low         string `json:"l"`
		LastTradeID int64  `json:"L"`
		Volume      string `json:"v"`
		TakerVolume string `json:"V"`
		Closed      bool   `json:"x"`
	} `json:"k"`
}

// combinedFrame is the wrapper used by the combined-stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Decode classifies one inbound frame. Frames are decoded exactly once
// here; everything downstream works with the tagged result. Anything
// that is not a well-formed kline update comes back as EventIgnored —
// malformed frames never error out of the read loop.
func Decode(raw []byte) model.StreamEvent {
	// Combined-stream frames wrap the payload in {"stream","data"}.
	var wrapper combinedFrame
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Data) > 0 {
		raw = wrapper.Data
	}

	var rk rawKline
	if err := json.Unmarshal(raw, &rk); err != nil {
		return model.StreamEvent{Kind: model.EventIgnored}
	}
	if rk.EventType != "kline" {
		return model.StreamEvent{Kind: model.EventIgnored, Type: rk.EventType}
	}

	open, err1 := strconv.ParseFloat(rk.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(rk.Kline.High, 64)
	low, err3 := strconv.ParseFloat(rk.Kline.Low, 64)
	closeP, err4 := strconv.ParseFloat(rk.Kline.Close, 64)
	volume, err5 := strconv.ParseFloat(rk.Kline.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return model.StreamEvent{Kind: model.EventIgnored, Type: rk.EventType}
	}

	symbol := rk.Kline.Symbol
	if symbol == "" {
		symbol = rk.Symbol
	}
	if symbol == "" || rk.Kline.Interval == "" {
		return model.StreamEvent{Kind: model.EventIgnored, Type: rk.EventType}
	}

	kind := model.EventKlinePartial
	if rk.Kline.Closed {
		kind = model.EventKlineClosed
	}

	return model.StreamEvent{
		Kind: kind,
		Type: rk.EventType,
		Kline: model.KlineEvent{
			Symbol:   symbol,
			Interval: rk.Kline.Interval,
			Closed:   rk.Kline.Closed,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
			OpenTime: time.Unix(0, rk.Kline.OpenTime*int64(time.Millisecond)).UTC(),
		},
	}
}
