// Package remit holds the remittance domain model: corridors, fees,
// transfer math, and the persistence interfaces the agent and its
// tools share.
package remit

import (
	"context"
	"regexp"
	"time"
)

type CurrencyInfo struct {
	Code          string
	Symbol        string
	Country       string
	DecimalPlaces int
}

// Currencies the service can quote. Zero-decimal currencies are paid
// out in whole units, so receive amounts floor instead of round.
var Currencies = map[string]CurrencyInfo{
	"RUB": {Code: "RUB", Symbol: "₽", Country: "Russia", DecimalPlaces: 2},
	"RWF": {Code: "RWF", Symbol: "FRw", Country: "Rwanda", DecimalPlaces: 0},
	"UGX": {Code: "UGX", Symbol: "USh", Country: "Uganda", DecimalPlaces: 0},
	"TZS": {Code: "TZS", Symbol: "TSh", Country: "Tanzania", DecimalPlaces: 0},
	"KES": {Code: "KES", Symbol: "KSh", Country: "Kenya", DecimalPlaces: 2},
	"TRY": {Code: "TRY", Symbol: "₺", Country: "Turkey", DecimalPlaces: 2},
	"BIF": {Code: "BIF", Symbol: "FBu", Country: "Burundi", DecimalPlaces: 0},
	"NGN": {Code: "NGN", Symbol: "₦", Country: "Nigeria", DecimalPlaces: 2},
	"ETB": {Code: "ETB", Symbol: "Br", Country: "Ethiopia", DecimalPlaces: 2},
	"XOF": {Code: "XOF", Symbol: "CFA", Country: "Senegal", DecimalPlaces: 0},
	"ZAR": {Code: "ZAR", Symbol: "R", Country: "South Africa", DecimalPlaces: 2},
	"SLE": {Code: "SLE", Symbol: "Le", Country: "Sierra Leone", DecimalPlaces: 2},
}

type CountryInfo struct {
	Name        string
	Currency    string
	PhonePrefix string
}

var Countries = map[string]CountryInfo{
	"russia":       {Name: "Russia", Currency: "RUB", PhonePrefix: "+7"},
	"rwanda":       {Name: "Rwanda", Currency: "RWF", PhonePrefix: "+250"},
	"uganda":       {Name: "Uganda", Currency: "UGX", PhonePrefix: "+256"},
	"tanzania":     {Name: "Tanzania", Currency: "TZS", PhonePrefix: "+255"},
	"kenya":        {Name: "Kenya", Currency: "KES", PhonePrefix: "+254"},
	"turkey":       {Name: "Turkey", Currency: "TRY", PhonePrefix: "+90"},
	"burundi":      {Name: "Burundi", Currency: "BIF", PhonePrefix: "+257"},
	"nigeria":      {Name: "Nigeria", Currency: "NGN", PhonePrefix: "+234"},
	"ethiopia":     {Name: "Ethiopia", Currency: "ETB", PhonePrefix: "+251"},
	"senegal":      {Name: "Senegal", Currency: "XOF", PhonePrefix: "+221"},
	"south africa": {Name: "South Africa", Currency: "ZAR", PhonePrefix: "+27"},
	"sierra leone": {Name: "Sierra Leone", Currency: "SLE", PhonePrefix: "+232"},
}

// Fee schedule. Fees are charged in RUB on the RUB leg only.
const (
	FixedFeeRUB  = 100.0
	PayoutFeeRUB = 100.0
)

// Sending limits used for validation warnings.
const (
	MinSendAmount = 100.0
	MaxSendAmount = 500000.0
)

type TransactionStatus string

const (
	StatusDraft                TransactionStatus = "draft"
	StatusPendingPayment       TransactionStatus = "pending_payment"
	StatusAwaitingConfirmation TransactionStatus = "awaiting_confirmation"
	StatusProcessing           TransactionStatus = "processing"
	StatusSent                 TransactionStatus = "sent"
	StatusDelivered            TransactionStatus = "delivered"
	StatusCompleted            TransactionStatus = "completed"
	StatusFailed               TransactionStatus = "failed"
	StatusCancelled            TransactionStatus = "cancelled"
)

var statusDescriptions = map[TransactionStatus]string{
	StatusDraft:                "Order created but not yet submitted",
	StatusPendingPayment:       "Waiting for your payment",
	StatusAwaitingConfirmation: "Payment received, being verified",
	StatusProcessing:           "Payment confirmed, transfer in progress",
	StatusSent:                 "Money sent to recipient",
	StatusDelivered:            "Money delivered to recipient",
	StatusCompleted:            "Transfer completed",
	StatusFailed:               "Transfer failed, contact support",
	StatusCancelled:            "Transfer cancelled",
}

func StatusDescription(s TransactionStatus) string {
	if desc, ok := statusDescriptions[s]; ok {
		return desc
	}
	return string(s)
}

func IsValidStatus(s string) bool {
	_, ok := statusDescriptions[TransactionStatus(s)]
	return ok
}

var phoneRE = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

func IsValidPhone(phone string) bool {
	return phoneRE.MatchString(phone)
}

// Profile is the customer record keyed by account id.
type Profile struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Country   string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recipient is a saved payout destination for a customer.
type Recipient struct {
	ID            string
	UserID        string
	Name          string
	Phone         string
	Country       string
	Provider      string
	Bank          string
	AccountNumber string
	Currency      string
	LastUsedAt    time.Time
}

// PaymentReceiver is an account money is collected into, one per
// source currency. Inactive receivers are never shown to customers.
type PaymentReceiver struct {
	ID            string
	Currency      string
	Provider      string
	AccountNumber string
	AccountHolder string
	Kind          string // bank or mobile
	Active        bool
}

// Transaction is one transfer order end to end.
type Transaction struct {
	ID              string
	UserID          string
	SenderName      string
	SenderEmail     string
	RecipientName   string
	RecipientPhone  string
	Provider        string
	Bank            string
	AccountNumber   string
	SendAmount      float64
	SendCurrency    string
	Fee             float64
	NetAmount       float64
	Rate            float64
	ReceiveAmount   float64
	ReceiveCurrency string
	Status          TransactionStatus
	ProofPath       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeliveryMethods lists how money can be paid out for a currency.
type DeliveryMethods struct {
	Currency        string   `json:"currency"`
	MobileProviders []string `json:"mobileProviders"`
	Banks           []string `json:"banks"`
	CashPickup      bool     `json:"cashPickup"`
}

var deliveryMethods = map[string]DeliveryMethods{
	"RWF": {Currency: "RWF", MobileProviders: []string{"MTN Mobile Money", "Airtel Money"}, Banks: []string{"Bank of Kigali", "Equity Bank Rwanda", "I&M Bank"}, CashPickup: true},
	"UGX": {Currency: "UGX", MobileProviders: []string{"MTN Mobile Money", "Airtel Money"}, Banks: []string{"Stanbic Bank", "Centenary Bank"}, CashPickup: true},
	"TZS": {Currency: "TZS", MobileProviders: []string{"M-Pesa", "Airtel Money", "Tigo Pesa"}, Banks: []string{"CRDB Bank", "NMB Bank"}, CashPickup: true},
	"KES": {Currency: "KES", MobileProviders: []string{"M-Pesa", "Airtel Money"}, Banks: []string{"Equity Bank", "KCB Bank"}, CashPickup: false},
	"BIF": {Currency: "BIF", MobileProviders: []string{"Lumicash", "EcoCash"}, Banks: []string{"Bancobu", "BCB"}, CashPickup: true},
	"XOF": {Currency: "XOF", MobileProviders: []string{"Wave", "Orange Money"}, Banks: []string{"CBAO", "Ecobank"}, CashPickup: false},
	"NGN": {Currency: "NGN", MobileProviders: []string{"OPay", "PalmPay"}, Banks: []string{"GTBank", "Access Bank", "Zenith Bank"}, CashPickup: false},
	"ETB": {Currency: "ETB", MobileProviders: []string{"Telebirr"}, Banks: []string{"Commercial Bank of Ethiopia", "Awash Bank"}, CashPickup: false},
	"ZAR": {Currency: "ZAR", MobileProviders: []string{}, Banks: []string{"FNB", "Standard Bank", "Capitec"}, CashPickup: true},
	"SLE": {Currency: "SLE", MobileProviders: []string{"Orange Money", "Afrimoney"}, Banks: []string{"Sierra Leone Commercial Bank"}, CashPickup: true},
	"TRY": {Currency: "TRY", MobileProviders: []string{}, Banks: []string{"Ziraat Bankası", "İş Bankası"}, CashPickup: false},
	"RUB": {Currency: "RUB", MobileProviders: []string{}, Banks: []string{"Sberbank", "Tinkoff", "Alfa-Bank"}, CashPickup: false},
}

// DeliveryMethodsFor returns the payout options for a currency code.
// Unknown currencies yield empty lists rather than an error.
func DeliveryMethodsFor(currency string) DeliveryMethods {
	if dm, ok := deliveryMethods[currency]; ok {
		return dm
	}
	return DeliveryMethods{Currency: currency, MobileProviders: []string{}, Banks: []string{}}
}

// Collaborator interfaces. Implementations live in pkg/store; the
// agent and tools depend only on these.

type RateSource interface {
	Rates(ctx context.Context) (map[string]float64, error)
}

type AdjustmentSource interface {
	Adjustments(ctx context.Context) (map[string]float64, error)
}

type ReceiverDirectory interface {
	ActiveReceivers(ctx context.Context) ([]PaymentReceiver, error)
}

type RecipientStore interface {
	RecentRecipients(ctx context.Context, userID string, limit int) ([]Recipient, error)
	SaveRecipient(ctx context.Context, r Recipient) error
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	RecentTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	TransactionsByStatus(ctx context.Context, userID string, status TransactionStatus) ([]Transaction, error)
	UpdateStatus(ctx context.Context, id string, status TransactionStatus) error
	AttachProof(ctx context.Context, id, proofPath string) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	FindProfileByEmail(ctx context.Context, email string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
}

// IdentityLinker maps a channel identity (e.g. a WhatsApp number) to a
// verified account id.
type IdentityLinker interface {
	LinkedAccount(ctx context.Context, channelID string) (string, bool, error)
	Link(ctx context.Context, channelID, accountID string) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
