package services

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

// NotificationService sends best-effort marketplace emails. Delivery
// failures are logged and never surfaced to the request path.
type NotificationService struct {
	db *sql.DB
}

func NewNotificationService(db *sql.DB) *NotificationService {
	return &NotificationService{db: db}
}

// NotifyOutbid emails the user who held the highest bid before newBidID.
func (s *NotificationService) NotifyOutbid(listingID, newBidID string, newAmount int64) {
	var email, title string
	err := s.db.QueryRow(`
		SELECT u.email, l.title
		FROM bids b
		JOIN users u ON u.id = b.user_id
		JOIN listings l ON l.id = b.listing_id
		WHERE b.listing_id = $1 AND b.id <> $2
		ORDER BY b.amount DESC
		LIMIT 1`, listingID, newBidID).Scan(&email, &title)
	if err == sql.ErrNoRows {
		return // first bid on the listing
	}
	if err != nil {
		log.Printf("[NOTIFY] Outbid lookup failed for listing %s: %v", listingID, err)
		return
	}

	subject := "You have been outbid"
	body := fmt.Sprintf("Another bidder placed %d SAR on '%s'. Place a higher bid to stay in the auction.", newAmount, title)
	s.send(email, subject, body)
}

// NotifyDepositRefunded emails the deposit holder once the refund confirms.
func (s *NotificationService) NotifyDepositRefunded(depositID string) {
	var email string
	var amount int64
	err := s.db.QueryRow(`
		SELECT u.email, d.amount
		FROM deposits d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1`, depositID).Scan(&email, &amount)
	if err != nil {
		log.Printf("[NOTIFY] Refund lookup failed for deposit %s: %v", depositID, err)
		return
	}

	s.send(email, "Bidding deposit refunded",
		fmt.Sprintf("Your bidding deposit of %d SAR has been refunded.", amount))
}

// NotifyOrderConfirmed emails the buyer when their payment captures.
func (s *NotificationService) NotifyOrderConfirmed(orderID string) {
	var email, title string
	err := s.db.QueryRow(`
		SELECT u.email, l.title
		FROM orders o
		JOIN users u ON u.id = o.user_id
		JOIN listings l ON l.id = o.listing_id
		WHERE o.id = $1`, orderID).Scan(&email, &title)
	if err != nil {
		log.Printf("[NOTIFY] Order lookup failed for order %s: %v", orderID, err)
		return
	}

	s.send(email, "Purchase confirmed",
		fmt.Sprintf("Your payment for '%s' has been confirmed. The seller will contact you to arrange handover.", title))
}

func (s *NotificationService) send(toEmail, subject, body string) {
	from := viper.GetString("smtp.email")
	password := viper.GetString("smtp.password")
	host := viper.GetString("smtp.host")
	if host == "" {
		host = "smtp.gmail.com"
	}
	if from == "" {
		log.Printf("[NOTIFY] SMTP not configured, dropping mail to %s (%s)", toEmail, subject)
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(host, 587, from, password)
	if err := d.DialAndSend(m); err != nil {
		log.Printf("[NOTIFY] Failed to send '%s' to %s: %v", subject, toEmail, err)
	}
}
