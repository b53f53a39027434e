package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anchel/voucher-seckill/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	addr      = flag.String("addr", "localhost:50051", "the address to connect to")
	voucherID = flag.Int64("voucher", 1, "voucher to race for")
	requests  = flag.Int("n", 20001, "number of admission requests")
	userSpace = flag.Int64("users", 1000000, "user ids are drawn from [1, users]")
)

type counters struct {
	err       atomic.Int64
	admitted  atomic.Int64
	soldOut   atomic.Int64
	duplicate atomic.Int64
	closed    atomic.Int64
	other     atomic.Int64

	inqErr     atomic.Int64
	inqQueue   atomic.Int64
	inqSuccess atomic.Int64
	inqFailed  atomic.Int64
	inqOther   atomic.Int64
}

func main() {
	flag.Parse()

	var c counters

	delayArr := make([]int, 20)
	delayLen := len(delayArr)
	delayMutex := sync.Mutex{}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()
	client := server.NewSeckillServiceClient(conn)

	now := time.Now()

	var wg sync.WaitGroup
	var wgInquire sync.WaitGroup

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := rand.Int63n(*userSpace) + 1

			rsp, err := client.Admit(context.Background(), &server.AdmitRequest{
				VoucherID: *voucherID,
				UserID:    userID,
			})
			if err != nil {
				c.err.Add(1)
				return
			}

			switch rsp.Status {
			case "ADMITTED":
				c.admitted.Add(1)
			case "SOLD_OUT":
				c.soldOut.Add(1)
				return
			case "DUPLICATE_ORDER":
				c.duplicate.Add(1)
				return
			case "NOT_STARTED", "ENDED":
				c.closed.Add(1)
				return
			default:
				c.other.Add(1)
				return
			}

			wgInquire.Add(1)
			go func() {
				defer wgInquire.Done()
				start := time.Now()

				inq, err := client.InquireOrder(context.Background(), &server.InquireOrderRequest{
					OrderID: rsp.OrderID,
					UserID:  userID,
				})
				if err != nil {
					c.inqErr.Add(1)
				} else {
					switch inq.Status {
					case "QUEUEING":
						c.inqQueue.Add(1)
					case "SUCCESS":
						c.inqSuccess.Add(1)
					case "FAILED":
						c.inqFailed.Add(1)
					default:
						c.inqOther.Add(1)
					}
				}

				delay := int(math.Round(float64(time.Since(start).Milliseconds()) / 1000))
				if delay >= delayLen {
					delay = delayLen - 1
				}
				delayMutex.Lock()
				delayArr[delay]++
				delayMutex.Unlock()
			}()
		}()
	}
	wg.Wait()

	fmt.Println("voucherID", *voucherID)
	fmt.Println("--------------------------------------")
	fmt.Println("time used:", time.Since(now).Seconds())

	fmt.Printf("error: %d\n", c.err.Load())
	fmt.Printf("admitted: %d\n", c.admitted.Load())
	fmt.Printf("sold out: %d\n", c.soldOut.Load())
	fmt.Printf("duplicate: %d\n", c.duplicate.Load())
	fmt.Printf("outside window: %d\n", c.closed.Load())
	fmt.Printf("other: %d\n", c.other.Load())

	fmt.Println("--------------------------------------")

	wgInquire.Wait()
	fmt.Println("time used:", time.Since(now).Seconds())

	fmt.Printf("inquire error: %d\n", c.inqErr.Load())
	fmt.Printf("inquire queueing: %d\n", c.inqQueue.Load())
	fmt.Printf("inquire success: %d\n", c.inqSuccess.Load())
	fmt.Printf("inquire failed: %d\n", c.inqFailed.Load())
	fmt.Printf("inquire other: %d\n", c.inqOther.Load())
	fmt.Println("delay seconds histogram:", delayArr)
}
